package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonitoredAddress is one wallet a user asked us to watch.
type MonitoredAddress struct {
	ID        int64
	UserID    int64
	Address   string
	Label     string
	CreatedAt time.Time
}

// ThresholdRow is a persisted alert bound. Scope is "global",
// "protocol" or "market"; protocol/market_id are empty below their
// scope.
type ThresholdRow struct {
	ID        int64
	UserID    int64
	Scope     string
	Protocol  string
	MarketID  string
	Value     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HealthSample is one observed risk unit at one check. Health is nil
// when the unit's health factor is undefined (no debt).
type HealthSample struct {
	CheckedAt     time.Time
	UserID        int64
	Address       string
	Protocol      string
	UnitID        string
	MarketLabel   string
	Health        *decimal.Decimal
	CollateralUSD decimal.Decimal
	DebtUSD       decimal.Decimal
	Status        string
	Error         *string
	CreatedAt     time.Time
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID          int64
	UserID      int64
	Address     string
	Protocol    string
	UnitID      string
	MarketLabel string
	Health      decimal.Decimal
	Threshold   decimal.Decimal
	CreatedAt   time.Time
}
