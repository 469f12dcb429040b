package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertAddressSQL = `INSERT INTO monitored_addresses (user_id, address, label)
    VALUES ($1, lower($2), $3)
    ON CONFLICT (user_id, address) DO UPDATE SET label = EXCLUDED.label
    RETURNING id, user_id, address, label, created_at;`

	deleteAddressSQL = `DELETE FROM monitored_addresses
    WHERE user_id = $1 AND address = lower($2);`

	listAddressesSQL = `SELECT id, user_id, address, label, created_at
    FROM monitored_addresses
    WHERE user_id = $1
    ORDER BY created_at;`

	listAllAddressesSQL = `SELECT id, user_id, address, label, created_at
    FROM monitored_addresses
    ORDER BY user_id, created_at;`

	upsertThresholdSQL = `INSERT INTO thresholds (user_id, scope, protocol, market_id, value)
    VALUES ($1, $2, $3, lower($4), $5)
    ON CONFLICT (user_id, scope, protocol, market_id) DO UPDATE
    SET value = EXCLUDED.value, updated_at = now()
    RETURNING id, user_id, scope, protocol, market_id, value, created_at, updated_at;`

	deleteThresholdSQL = `DELETE FROM thresholds
    WHERE user_id = $1 AND scope = $2 AND protocol = $3 AND market_id = lower($4);`

	listThresholdsSQL = `SELECT id, user_id, scope, protocol, market_id, value, created_at, updated_at
    FROM thresholds
    WHERE user_id = $1
    ORDER BY scope, protocol, market_id;`

	listAllThresholdsSQL = `SELECT id, user_id, scope, protocol, market_id, value, created_at, updated_at
    FROM thresholds
    ORDER BY user_id, scope, protocol, market_id;`

	insertHealthSampleSQL = `INSERT INTO health_samples (
        checked_at,
        user_id,
        address,
        protocol,
        unit_id,
        market_label,
        health,
        collateral_usd,
        debt_usd,
        status,
        error
    ) VALUES (
        $1,$2,lower($3),$4,$5,$6,$7,$8,$9,$10,$11
    );`

	listRecentSamplesSQL = `SELECT
        checked_at,
        user_id,
        address,
        protocol,
        unit_id,
        market_label,
        health,
        collateral_usd,
        debt_usd,
        status,
        error,
        created_at
    FROM health_samples
    WHERE user_id = $1
    ORDER BY checked_at DESC
    LIMIT $2;`

	listSamplesBetweenSQL = `SELECT
        checked_at,
        user_id,
        address,
        protocol,
        unit_id,
        market_label,
        health,
        collateral_usd,
        debt_usd,
        status,
        error,
        created_at
    FROM health_samples
    WHERE user_id = $1
      AND address = lower($2)
      AND checked_at >= $3
      AND checked_at < $4
    ORDER BY checked_at;`

	countSamplesSQL = `SELECT COUNT(*) FROM health_samples;`

	insertAlertSQL = `INSERT INTO alerts (
        user_id,
        address,
        protocol,
        unit_id,
        market_label,
        health,
        threshold
    ) VALUES (
        $1,lower($2),$3,$4,$5,$6,$7
    )
    RETURNING id, user_id, address, protocol, unit_id, market_label, health, threshold, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        user_id,
        address,
        protocol,
        unit_id,
        market_label,
        health,
        threshold,
        created_at
    FROM alerts
    WHERE user_id = $1
    ORDER BY created_at DESC
    LIMIT $2;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AddressStore defines monitored address persistence.
type AddressStore interface {
	UpsertAddress(ctx context.Context, addr MonitoredAddress) (MonitoredAddress, error)
	DeleteAddress(ctx context.Context, userID int64, address string) (bool, error)
	ListAddresses(ctx context.Context, userID int64) ([]MonitoredAddress, error)
	ListAllAddresses(ctx context.Context) ([]MonitoredAddress, error)
}

// ThresholdStore defines threshold persistence.
type ThresholdStore interface {
	UpsertThreshold(ctx context.Context, row ThresholdRow) (ThresholdRow, error)
	DeleteThreshold(ctx context.Context, userID int64, scope, protocol, marketID string) (bool, error)
	ListThresholds(ctx context.Context, userID int64) ([]ThresholdRow, error)
	ListAllThresholds(ctx context.Context) ([]ThresholdRow, error)
}

// SampleStore defines health sample persistence.
type SampleStore interface {
	InsertHealthSample(ctx context.Context, sample HealthSample) error
	ListRecentSamples(ctx context.Context, userID int64, limit int) ([]HealthSample, error)
	ListSamplesBetween(ctx context.Context, userID int64, address string, from, to time.Time) ([]HealthSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, userID int64, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to addresses, thresholds, samples and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Best effort; the lock dies with the session anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertAddress adds or relabels a monitored address.
func (s *Store) UpsertAddress(ctx context.Context, addr MonitoredAddress) (MonitoredAddress, error) {
	pool, err := s.getPool()
	if err != nil {
		return MonitoredAddress{}, err
	}

	row := pool.QueryRow(ctx, upsertAddressSQL, addr.UserID, addr.Address, addr.Label)
	var rec MonitoredAddress
	if scanErr := row.Scan(&rec.ID, &rec.UserID, &rec.Address, &rec.Label, &rec.CreatedAt); scanErr != nil {
		return MonitoredAddress{}, fmt.Errorf("upsert address: %w", scanErr)
	}
	return rec, nil
}

// DeleteAddress removes a monitored address; false when it was absent.
func (s *Store) DeleteAddress(ctx context.Context, userID int64, address string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, deleteAddressSQL, userID, address)
	if execErr != nil {
		return false, fmt.Errorf("delete address: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// ListAddresses lists one user's monitored addresses.
func (s *Store) ListAddresses(ctx context.Context, userID int64) ([]MonitoredAddress, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listAddressesSQL, userID)
	if queryErr != nil {
		return nil, fmt.Errorf("list addresses: %w", queryErr)
	}
	defer rows.Close()
	return collectAddresses(rows)
}

// ListAllAddresses lists every monitored address across users, for the
// scheduler snapshot.
func (s *Store) ListAllAddresses(ctx context.Context) ([]MonitoredAddress, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listAllAddressesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list all addresses: %w", queryErr)
	}
	defer rows.Close()
	return collectAddresses(rows)
}

func collectAddresses(rows pgx.Rows) ([]MonitoredAddress, error) {
	out := make([]MonitoredAddress, 0)
	for rows.Next() {
		var rec MonitoredAddress
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Address, &rec.Label, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// UpsertThreshold creates or updates a threshold at its scope tuple.
func (s *Store) UpsertThreshold(ctx context.Context, row ThresholdRow) (ThresholdRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return ThresholdRow{}, err
	}

	r := pool.QueryRow(ctx, upsertThresholdSQL,
		row.UserID, row.Scope, row.Protocol, row.MarketID, row.Value.String())
	rec, scanErr := scanThreshold(r)
	if scanErr != nil {
		return ThresholdRow{}, fmt.Errorf("upsert threshold: %w", scanErr)
	}
	return rec, nil
}

// DeleteThreshold removes a threshold; false when it was absent.
func (s *Store) DeleteThreshold(ctx context.Context, userID int64, scope, protocol, marketID string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, deleteThresholdSQL, userID, scope, protocol, marketID)
	if execErr != nil {
		return false, fmt.Errorf("delete threshold: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// ListThresholds lists one user's thresholds.
func (s *Store) ListThresholds(ctx context.Context, userID int64) ([]ThresholdRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listThresholdsSQL, userID)
	if queryErr != nil {
		return nil, fmt.Errorf("list thresholds: %w", queryErr)
	}
	defer rows.Close()
	return collectThresholds(rows)
}

// ListAllThresholds lists every threshold across users.
func (s *Store) ListAllThresholds(ctx context.Context) ([]ThresholdRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listAllThresholdsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list all thresholds: %w", queryErr)
	}
	defer rows.Close()
	return collectThresholds(rows)
}

func collectThresholds(rows pgx.Rows) ([]ThresholdRow, error) {
	out := make([]ThresholdRow, 0)
	for rows.Next() {
		rec, err := scanThreshold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThreshold(row rowScanner) (ThresholdRow, error) {
	var (
		rec      ThresholdRow
		valueStr string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Scope,
		&rec.Protocol,
		&rec.MarketID,
		&valueStr,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return ThresholdRow{}, err
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return ThresholdRow{}, fmt.Errorf("parse threshold value: %w", err)
	}
	rec.Value = value
	return rec, nil
}

// InsertHealthSample persists one observed risk unit.
func (s *Store) InsertHealthSample(ctx context.Context, sample HealthSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var health interface{}
	if sample.Health != nil {
		health = sample.Health.String()
	}
	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, insertHealthSampleSQL,
		sample.CheckedAt,
		sample.UserID,
		sample.Address,
		sample.Protocol,
		sample.UnitID,
		sample.MarketLabel,
		health,
		sample.CollateralUSD.String(),
		sample.DebtUSD.String(),
		sample.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("insert health sample: %w", execErr)
	}
	return nil
}

// ListRecentSamples lists the most recent samples for a user.
func (s *Store) ListRecentSamples(ctx context.Context, userID int64, limit int) ([]HealthSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, userID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()
	return collectSamples(rows)
}

// ListSamplesBetween lists one address's samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, userID int64, address string, from, to time.Time) ([]HealthSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, userID, address, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()
	return collectSamples(rows)
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

func collectSamples(rows pgx.Rows) ([]HealthSample, error) {
	samples := make([]HealthSample, 0)
	for rows.Next() {
		sample, err := scanHealthSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanHealthSample(rows pgx.Rows) (HealthSample, error) {
	var (
		sample        HealthSample
		healthStr     sql.NullString
		collateralStr string
		debtStr       string
		errMsg        sql.NullString
	)

	if err := rows.Scan(
		&sample.CheckedAt,
		&sample.UserID,
		&sample.Address,
		&sample.Protocol,
		&sample.UnitID,
		&sample.MarketLabel,
		&healthStr,
		&collateralStr,
		&debtStr,
		&sample.Status,
		&errMsg,
		&sample.CreatedAt,
	); err != nil {
		return HealthSample{}, err
	}

	if healthStr.Valid {
		health, err := decimal.NewFromString(healthStr.String)
		if err != nil {
			return HealthSample{}, fmt.Errorf("parse health: %w", err)
		}
		sample.Health = &health
	}

	collateral, err := decimal.NewFromString(collateralStr)
	if err != nil {
		return HealthSample{}, fmt.Errorf("parse collateral: %w", err)
	}
	debt, err := decimal.NewFromString(debtStr)
	if err != nil {
		return HealthSample{}, fmt.Errorf("parse debt: %w", err)
	}
	sample.CollateralUSD = collateral
	sample.DebtUSD = debt

	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}
	return sample, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.UserID,
		alert.Address,
		alert.Protocol,
		alert.UnitID,
		alert.MarketLabel,
		alert.Health.String(),
		alert.Threshold.String(),
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts for a user.
func (s *Store) ListRecentAlerts(ctx context.Context, userID int64, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, userID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func scanAlert(row rowScanner) (AlertRecord, error) {
	var (
		rec          AlertRecord
		healthStr    string
		thresholdStr string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Address,
		&rec.Protocol,
		&rec.UnitID,
		&rec.MarketLabel,
		&healthStr,
		&thresholdStr,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	health, err := decimal.NewFromString(healthStr)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse health: %w", err)
	}
	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold: %w", err)
	}
	rec.Health = health
	rec.Threshold = threshold
	return rec, nil
}
