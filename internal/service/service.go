package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"lending-health-alerts/internal/alerting"
	"lending-health-alerts/internal/config"
	"lending-health-alerts/internal/discovery"
	"lending-health-alerts/internal/position"
	"lending-health-alerts/internal/scheduler"
	"lending-health-alerts/internal/storage"
	"lending-health-alerts/internal/threshold"
)

const defaultPairConcurrency = 10

// Checker is the discovery surface the service drives. Satisfied by
// *discovery.Coordinator.
type Checker interface {
	DiscoverAll(ctx context.Context, address string, filter position.ProtocolID) ([]position.Aggregated, []discovery.ProtocolError)
}

// Service orchestrates periodic monitoring: per cycle it snapshots the
// monitored addresses and thresholds, fans the distinct (user, address)
// pairs out under a concurrency cap, and alerts on units whose health
// sits below their resolved threshold.
type Service struct {
	scheduler  *scheduler.Scheduler
	checker    Checker
	addresses  storage.AddressStore
	thresholds storage.ThresholdStore
	samples    storage.SampleStore
	alertStore storage.AlertStore
	sink       alerting.Sink
	logger     zerolog.Logger

	pairSem      *semaphore.Weighted
	checkTimeout time.Duration
	locker       storage.AdvisoryLocker
	lockKey      int64
	alertsOn     bool

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, checker Checker, store *storage.Store, sink alerting.Sink, logger zerolog.Logger) *Service {
	s := &Service{
		scheduler:  sched,
		checker:    checker,
		addresses:  store,
		thresholds: store,
		samples:    store,
		alertStore: store,
		sink:       sink,
		logger:     logger.With().Str("component", "service").Logger(),
		locker:     store,
		inFlight:   make(map[string]struct{}),
	}
	s.configure(cfg)
	return s
}

func (s *Service) configure(cfg *config.Config) {
	concurrency := defaultPairConcurrency
	timeout := 2 * time.Minute
	if cfg != nil {
		if cfg.Monitor.PairConcurrency > 0 {
			concurrency = cfg.Monitor.PairConcurrency
		}
		if cfg.Monitor.CheckTimeout > 0 {
			timeout = cfg.Monitor.CheckTimeout
		}
		s.alertsOn = cfg.Alerting.Enabled
		s.lockKey = cfg.Scheduler.AdvisoryLockKey
	}
	s.pairSem = semaphore.NewWeighted(int64(concurrency))
	s.checkTimeout = timeout
}

// Run begins the monitoring loop and drains in-flight checks once the
// context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	err := s.scheduler.Run(ctx, s.RunCycle)
	s.wg.Wait()
	return err
}

// RunOnce executes a single monitoring cycle and waits for every
// launched check to finish.
func (s *Service) RunOnce(ctx context.Context) error {
	err := s.RunCycle(ctx, time.Now().UTC())
	s.wg.Wait()
	return err
}

// RunCycle executes one monitoring cycle. Pair checks are launched
// asynchronously so a slow pair never delays the next cycle; a pair
// still being checked from a previous cycle is skipped.
func (s *Service) RunCycle(ctx context.Context, cycle time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", cycle).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}

	addresses, err := s.addresses.ListAllAddresses(ctx)
	if err != nil {
		if unlock != nil {
			unlock()
		}
		return fmt.Errorf("load monitored addresses: %w", err)
	}
	rows, err := s.thresholds.ListAllThresholds(ctx)
	if err != nil {
		if unlock != nil {
			unlock()
		}
		return fmt.Errorf("load thresholds: %w", err)
	}
	resolver := buildResolver(rows)

	pairs := distinctPairs(addresses)
	s.logger.Info().Time("cycle", cycle).Int("pairs", len(pairs)).Msg("cycle snapshot loaded")

	var launched sync.WaitGroup
	for _, p := range pairs {
		key := pairKey(p.userID, p.address)
		if !s.markInFlight(key) {
			s.logger.Warn().Str("pair", key).Msg("previous check still running; skipping pair this cycle")
			continue
		}

		s.wg.Add(1)
		launched.Add(1)
		go func(p pair) {
			defer s.wg.Done()
			defer s.clearInFlight(key)
			launched.Done()

			// Queued pairs give up on shutdown; a check that
			// already started runs to completion on a detached
			// timeout context.
			if err := s.pairSem.Acquire(ctx, 1); err != nil {
				return
			}
			defer s.pairSem.Release(1)

			checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.checkTimeout)
			defer cancel()
			s.checkPair(checkCtx, cycle, p, resolver)
		}(p)
	}

	// The snapshot's unlock must outlive only the launch phase; the
	// checks themselves run off-lock.
	launched.Wait()
	if unlock != nil {
		unlock()
	}
	return nil
}

type pair struct {
	userID  int64
	address string
}

func pairKey(userID int64, address string) string {
	return fmt.Sprintf("%d|%s", userID, strings.ToLower(address))
}

func distinctPairs(addresses []storage.MonitoredAddress) []pair {
	seen := make(map[string]struct{}, len(addresses))
	pairs := make([]pair, 0, len(addresses))
	for _, a := range addresses {
		p := pair{userID: a.UserID, address: strings.ToLower(a.Address)}
		key := pairKey(p.userID, p.address)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		pairs = append(pairs, p)
	}
	return pairs
}

func (s *Service) markInFlight(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *Service) clearInFlight(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}

// checkPair discovers one pair's positions and evaluates each risk
// unit against its threshold. A unit with no threshold at any scope is
// observed but not monitored.
func (s *Service) checkPair(ctx context.Context, cycle time.Time, p pair, resolver *threshold.Resolver) {
	aggregated, failures := s.checker.DiscoverAll(ctx, p.address, "")

	for _, f := range failures {
		s.logger.Warn().Err(f.Err).
			Str("protocol", string(f.Protocol)).
			Str("address", p.address).
			Msg("protocol check failed; other protocols unaffected")
		s.recordFailure(ctx, cycle, p, f)
	}

	for _, unit := range aggregated {
		s.recordSample(ctx, cycle, p, unit)

		bound, err := resolver.Resolve(p.userID, unit.Protocol, unit.UnitID)
		if err != nil {
			continue
		}
		if !unit.Health.Defined() || !unit.Health.LessThan(bound) {
			continue
		}

		s.emitAlert(ctx, cycle, p, unit, bound)
	}
}

func (s *Service) recordSample(ctx context.Context, cycle time.Time, p pair, unit position.Aggregated) {
	if s.samples == nil {
		return
	}

	sample := storage.HealthSample{
		CheckedAt:     cycle,
		UserID:        p.userID,
		Address:       p.address,
		Protocol:      string(unit.Protocol),
		UnitID:        unit.UnitID,
		MarketLabel:   unit.MarketLabel,
		CollateralUSD: unit.TotalCollateralValue(),
		DebtUSD:       unit.TotalDebtValue(),
		Status:        "complete",
	}
	if unit.Health.Defined() {
		v := unit.Health.Value()
		sample.Health = &v
	}

	if err := s.samples.InsertHealthSample(ctx, sample); err != nil {
		s.logger.Error().Err(err).Str("unit", unit.UnitID).Msg("failed to persist health sample")
	}
}

func (s *Service) recordFailure(ctx context.Context, cycle time.Time, p pair, f discovery.ProtocolError) {
	if s.samples == nil {
		return
	}

	msg := f.Err.Error()
	sample := storage.HealthSample{
		CheckedAt: cycle,
		UserID:    p.userID,
		Address:   p.address,
		Protocol:  string(f.Protocol),
		Status:    "errored",
		Error:     &msg,
	}
	if err := s.samples.InsertHealthSample(ctx, sample); err != nil {
		s.logger.Error().Err(err).Str("protocol", string(f.Protocol)).Msg("failed to persist failure sample")
	}
}

func (s *Service) emitAlert(ctx context.Context, cycle time.Time, p pair, unit position.Aggregated, bound decimal.Decimal) {
	if s.alertStore != nil {
		record := storage.AlertRecord{
			UserID:      p.userID,
			Address:     p.address,
			Protocol:    string(unit.Protocol),
			UnitID:      unit.UnitID,
			MarketLabel: unit.MarketLabel,
			Health:      unit.Health.Value(),
			Threshold:   bound,
		}
		if _, err := s.alertStore.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("unit", unit.UnitID).Msg("failed to persist alert record")
		}
	}

	if !s.alertsOn || s.sink == nil {
		return
	}

	note := alerting.Notification{
		UserID:       p.userID,
		Address:      p.address,
		ProtocolName: string(unit.Protocol),
		MarketLabel:  unit.MarketLabel,
		Health:       unit.Health,
		Threshold:    bound,
		DropPct:      unit.LiquidationDropPct(),
		CheckedAt:    cycle,
	}
	if err := s.sink.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("unit", unit.UnitID).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// buildResolver converts persisted threshold rows into a per-cycle
// resolver snapshot. Rows with unknown scopes are dropped.
func buildResolver(rows []storage.ThresholdRow) *threshold.Resolver {
	entries := make([]threshold.Entry, 0, len(rows))
	for _, row := range rows {
		var scope threshold.Scope
		switch row.Scope {
		case "global":
			scope = threshold.GlobalScope()
		case "protocol":
			scope = threshold.ProtocolScope(position.ProtocolID(row.Protocol))
		case "market":
			scope = threshold.MarketScope(position.ProtocolID(row.Protocol), row.MarketID)
		default:
			continue
		}
		entries = append(entries, threshold.Entry{
			UserID: row.UserID,
			Scope:  scope,
			Value:  row.Value,
		})
	}
	return threshold.NewResolver(entries)
}
