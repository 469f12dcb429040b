package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"lending-health-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Protocols ProtocolsConfig `mapstructure:"protocols"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs monitoring cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	RunAtStart      bool          `mapstructure:"run_at_start"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// CacheConfig tunes the short-lived discovery result cache.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// MonitorConfig bounds per-cycle fan-out.
type MonitorConfig struct {
	PairConcurrency int           `mapstructure:"pair_concurrency"`
	CheckTimeout    time.Duration `mapstructure:"check_timeout"`
}

// SourcesConfig caps concurrent calls per upstream source class.
type SourcesConfig struct {
	RPCConcurrency      int           `mapstructure:"rpc_concurrency"`
	QueryAPIConcurrency int           `mapstructure:"query_api_concurrency"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	UserAgent           string        `mapstructure:"user_agent"`
}

// ProtocolsConfig wires the per-protocol adapters.
type ProtocolsConfig struct {
	Aave     AaveConfig     `mapstructure:"aave"`
	Morpho   MorphoConfig   `mapstructure:"morpho"`
	Curvance CurvanceConfig `mapstructure:"curvance"`
	Euler    EulerConfig    `mapstructure:"euler"`
}

// AaveConfig covers the unified-account protocol.
type AaveConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	RPCURL      string `mapstructure:"rpc_url"`
	PoolAddress string `mapstructure:"pool_address"`
}

// MorphoConfig covers the peer-to-peer market protocol.
type MorphoConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	APIURL       string   `mapstructure:"api_url"`
	RPCURL       string   `mapstructure:"rpc_url"`
	CoreAddress  string   `mapstructure:"core_address"`
	ChainID      int64    `mapstructure:"chain_id"`
	KnownMarkets []string `mapstructure:"known_markets"`
}

// CurvanceConfig covers the cross-margin manager protocol.
type CurvanceConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	RPCURL          string   `mapstructure:"rpc_url"`
	ReaderAddress   string   `mapstructure:"reader_address"`
	RegistryAddress string   `mapstructure:"registry_address"`
	KnownManagers   []string `mapstructure:"known_managers"`
}

// EulerConfig covers the isolated-vault protocol.
type EulerConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	RPCURL      string   `mapstructure:"rpc_url"`
	EVCAddress  string   `mapstructure:"evc_address"`
	KnownVaults []string `mapstructure:"known_vaults"`
	SubAccounts int      `mapstructure:"sub_accounts"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram delivery channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HEALTHWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "healthwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.run_at_start", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x68656C74))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("cache.ttl", "30s")

	v.SetDefault("monitor.pair_concurrency", 10)
	v.SetDefault("monitor.check_timeout", "2m")

	v.SetDefault("sources.rpc_concurrency", 8)
	v.SetDefault("sources.query_api_concurrency", 2)
	v.SetDefault("sources.request_timeout", "10s")
	v.SetDefault("sources.user_agent", "healthwatcher/1.0")

	v.SetDefault("protocols.aave.enabled", true)
	v.SetDefault("protocols.aave.rpc_url", "https://rpc.monad.xyz")
	v.SetDefault("protocols.aave.pool_address", "0x80F00661b13CC5F6ccd3885bE7b4C9c67545D585")

	v.SetDefault("protocols.morpho.enabled", true)
	v.SetDefault("protocols.morpho.api_url", "https://blue-api.morpho.org/graphql")
	v.SetDefault("protocols.morpho.rpc_url", "https://rpc.monad.xyz")
	v.SetDefault("protocols.morpho.core_address", "0xD5D960E8C380B724a48AC59E2DfF1b2CB4a1eAee")
	v.SetDefault("protocols.morpho.chain_id", int64(143))

	v.SetDefault("protocols.curvance.enabled", true)
	v.SetDefault("protocols.curvance.rpc_url", "https://rpc.monad.xyz")
	v.SetDefault("protocols.curvance.reader_address", "0xBF67b967eCcf21f2C196f947b703e874D5dB649d")
	v.SetDefault("protocols.curvance.registry_address", "0x1310f352f1389969Ece6741671c4B919523912fF")
	v.SetDefault("protocols.curvance.known_managers", []string{
		"0xd6365555f6a697C7C295bA741100AA644cE28545",
		"0x5EA0a1Cf3501C954b64902c5e92100b8A2CaB1Ac",
		"0xE1C24B2E93230FBe33d32Ba38ECA3218284143e2",
	})

	v.SetDefault("protocols.euler.enabled", false)
	v.SetDefault("protocols.euler.rpc_url", "https://rpc.monad.xyz")
	v.SetDefault("protocols.euler.evc_address", "0x7a9324E8f270413fa2E458f5831226d99C7477CD")
	v.SetDefault("protocols.euler.known_vaults", []string{
		"0x28bD4F19C812CBF9e33A206f87125f14E65dc8aA",
	})
	v.SetDefault("protocols.euler.sub_accounts", 10)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Monitor.PairConcurrency <= 0 {
		return fmt.Errorf("monitor.pair_concurrency must be greater than zero")
	}
	if c.Sources.RPCConcurrency <= 0 || c.Sources.QueryAPIConcurrency <= 0 {
		return fmt.Errorf("sources concurrency caps must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
