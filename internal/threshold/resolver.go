// Package threshold resolves the alert bound for a risk unit from the
// user's configured entries. An entry applies at one of three scopes;
// the most specific scope wins.
package threshold

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"lending-health-alerts/internal/position"
)

// ErrNoThreshold means no entry at any scope covers the unit. The unit
// is simply not monitored; callers must not treat this as a failure.
var ErrNoThreshold = errors.New("no threshold configured")

// ScopeKind orders from most to least specific.
type ScopeKind int

const (
	ScopeMarket ScopeKind = iota
	ScopeProtocol
	ScopeGlobal
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeMarket:
		return "market"
	case ScopeProtocol:
		return "protocol"
	case ScopeGlobal:
		return "global"
	default:
		return fmt.Sprintf("scope(%d)", int(k))
	}
}

// Scope identifies what an entry applies to. Protocol is set for
// protocol and market scopes, MarketID only for market scope.
type Scope struct {
	Kind     ScopeKind
	Protocol position.ProtocolID
	MarketID string
}

func GlobalScope() Scope { return Scope{Kind: ScopeGlobal} }

func ProtocolScope(p position.ProtocolID) Scope {
	return Scope{Kind: ScopeProtocol, Protocol: p}
}

func MarketScope(p position.ProtocolID, marketID string) Scope {
	return Scope{Kind: ScopeMarket, Protocol: p, MarketID: strings.ToLower(marketID)}
}

// Entry is one configured threshold.
type Entry struct {
	UserID int64
	Scope  Scope
	Value  decimal.Decimal
}

// Resolver answers threshold lookups against a snapshot of entries.
// Build a fresh one per monitoring cycle; it is read-only afterwards.
type Resolver struct {
	market   map[string]decimal.Decimal
	protocol map[string]decimal.Decimal
	global   map[int64]decimal.Decimal
}

func NewResolver(entries []Entry) *Resolver {
	r := &Resolver{
		market:   make(map[string]decimal.Decimal),
		protocol: make(map[string]decimal.Decimal),
		global:   make(map[int64]decimal.Decimal),
	}
	for _, e := range entries {
		switch e.Scope.Kind {
		case ScopeMarket:
			r.market[marketKey(e.UserID, e.Scope.Protocol, e.Scope.MarketID)] = e.Value
		case ScopeProtocol:
			r.protocol[protocolKey(e.UserID, e.Scope.Protocol)] = e.Value
		case ScopeGlobal:
			r.global[e.UserID] = e.Value
		}
	}
	return r
}

// Resolve walks market, protocol, then global scope and returns the
// first match. ErrNoThreshold when the chain is exhausted.
func (r *Resolver) Resolve(userID int64, protocol position.ProtocolID, marketID string) (decimal.Decimal, error) {
	if v, ok := r.market[marketKey(userID, protocol, marketID)]; ok {
		return v, nil
	}
	if v, ok := r.protocol[protocolKey(userID, protocol)]; ok {
		return v, nil
	}
	if v, ok := r.global[userID]; ok {
		return v, nil
	}
	return decimal.Decimal{}, ErrNoThreshold
}

func marketKey(userID int64, p position.ProtocolID, marketID string) string {
	return fmt.Sprintf("%d|%s|%s", userID, p, strings.ToLower(marketID))
}

func protocolKey(userID int64, p position.ProtocolID) string {
	return fmt.Sprintf("%d|%s", userID, p)
}
