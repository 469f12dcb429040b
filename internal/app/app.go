package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"lending-health-alerts/internal/adapter"
	"lending-health-alerts/internal/alerting"
	"lending-health-alerts/internal/config"
	"lending-health-alerts/internal/discovery"
	"lending-health-alerts/internal/ratelimit"
	"lending-health-alerts/internal/scheduler"
	"lending-health-alerts/internal/service"
	"lending-health-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// sourceGate returns the admission gate for one endpoint. Distinct
// endpoints get independent gates; protocols pointed at the same URL
// share one. The class name stands in when no endpoint is configured.
func sourceGate(gates *ratelimit.Registry, endpoint, class string, limit int64) *ratelimit.Gate {
	name := strings.TrimSpace(endpoint)
	if name == "" {
		name = class
	}
	return gates.Gate(name, limit)
}

// newAdapters wires one adapter per enabled protocol, each gated by
// the endpoints it actually talks to.
func (a *App) newAdapters() (*adapter.Registry, error) {
	gates := ratelimit.NewRegistry()
	rpcCap := int64(a.Config.Sources.RPCConcurrency)
	apiCap := int64(a.Config.Sources.QueryAPIConcurrency)
	rpcGate := func(url string) *ratelimit.Gate {
		return sourceGate(gates, url, "rpc", rpcCap)
	}
	apiGate := func(url string) *ratelimit.Gate {
		return sourceGate(gates, url, "query-api", apiCap)
	}
	timeout := a.Config.Sources.RequestTimeout

	registry := adapter.NewRegistry()
	protos := a.Config.Protocols

	if protos.Aave.Enabled {
		aave := adapter.NewAave(adapter.AaveOptions{
			RPCURL:      protos.Aave.RPCURL,
			PoolAddress: protos.Aave.PoolAddress,
			Timeout:     timeout,
		}, rpcGate(protos.Aave.RPCURL), a.Logger)
		if err := registry.Register(aave); err != nil {
			return nil, err
		}
	}

	if protos.Morpho.Enabled {
		morpho := adapter.NewMorpho(adapter.MorphoOptions{
			APIURL:       protos.Morpho.APIURL,
			RPCURL:       protos.Morpho.RPCURL,
			CoreAddress:  protos.Morpho.CoreAddress,
			ChainID:      protos.Morpho.ChainID,
			KnownMarkets: protos.Morpho.KnownMarkets,
			Timeout:      timeout,
			UserAgent:    a.Config.Sources.UserAgent,
		}, apiGate(protos.Morpho.APIURL), rpcGate(protos.Morpho.RPCURL), a.Logger)
		if err := registry.Register(morpho); err != nil {
			return nil, err
		}
	}

	if protos.Curvance.Enabled {
		curvance := adapter.NewCurvance(adapter.CurvanceOptions{
			RPCURL:          protos.Curvance.RPCURL,
			ReaderAddress:   protos.Curvance.ReaderAddress,
			RegistryAddress: protos.Curvance.RegistryAddress,
			KnownManagers:   protos.Curvance.KnownManagers,
			Timeout:         timeout,
		}, rpcGate(protos.Curvance.RPCURL), a.Logger)
		if err := registry.Register(curvance); err != nil {
			return nil, err
		}
	}

	if protos.Euler.Enabled {
		euler := adapter.NewEuler(adapter.EulerOptions{
			RPCURL:      protos.Euler.RPCURL,
			EVCAddress:  protos.Euler.EVCAddress,
			KnownVaults: protos.Euler.KnownVaults,
			SubAccounts: protos.Euler.SubAccounts,
			Timeout:     timeout,
		}, rpcGate(protos.Euler.RPCURL), a.Logger)
		if err := registry.Register(euler); err != nil {
			return nil, err
		}
	}

	if len(registry.All()) == 0 {
		return nil, fmt.Errorf("no protocols enabled")
	}
	return registry, nil
}

// newCoordinator builds the discovery pipeline around a fresh cache.
func (a *App) newCoordinator() (*discovery.Coordinator, error) {
	registry, err := a.newAdapters()
	if err != nil {
		return nil, err
	}
	cache := discovery.NewResultCache(a.Config.Cache.TTL)
	return discovery.NewCoordinator(registry, cache, a.Logger), nil
}

func (a *App) newSink() alerting.Sink {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramSink(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// mustStore opens the database or fails; for commands that cannot run
// without persistence.
func (a *App) mustStore(ctx context.Context) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database.dsn not configured")
	}
	return store, closeStore, nil
}

// Run executes the monitoring service: a single cycle when once is
// set, otherwise the long-running scheduled loop.
func (a *App) Run(ctx context.Context, once bool) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.mustStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	coordinator, err := a.newCoordinator()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunAtStart:   a.Config.Scheduler.RunAtStart,
	}, a.Logger)

	svc := service.New(a.Config, sched, coordinator, store, a.newSink(), a.Logger)

	if once {
		a.Logger.Info().Msg("running one monitoring cycle")
		return svc.RunOnce(ctx)
	}

	a.Logger.Info().Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting health history.
type ExportOptions struct {
	UserID    int64
	Address   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	UserID int64
	Limit  int
}

// CheckOptions configure the on-demand check command.
type CheckOptions struct {
	Address  string
	Protocol string
}
