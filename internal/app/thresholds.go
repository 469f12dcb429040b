package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"lending-health-alerts/internal/position"
	"lending-health-alerts/internal/storage"
)

// ThresholdScopeArgs identify one threshold entry on the CLI: an empty
// protocol means global scope, protocol without market means protocol
// scope.
type ThresholdScopeArgs struct {
	Protocol string
	MarketID string
}

func (s ThresholdScopeArgs) resolve() (scope, protocol string, err error) {
	if s.Protocol == "" {
		if s.MarketID != "" {
			return "", "", fmt.Errorf("--market requires --protocol")
		}
		return "global", "", nil
	}
	id, err := position.ParseProtocolID(s.Protocol)
	if err != nil {
		return "", "", err
	}
	if s.MarketID == "" {
		return "protocol", string(id), nil
	}
	return "market", string(id), nil
}

// SetThreshold creates or updates a threshold at the given scope.
func (a *App) SetThreshold(ctx context.Context, userID int64, args ThresholdScopeArgs, value decimal.Decimal) error {
	if !value.IsPositive() {
		return fmt.Errorf("threshold must be greater than zero")
	}
	scope, protocol, err := args.resolve()
	if err != nil {
		return err
	}

	store, closeStore, err := a.mustStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rec, err := store.UpsertThreshold(ctx, storage.ThresholdRow{
		UserID:   userID,
		Scope:    scope,
		Protocol: protocol,
		MarketID: args.MarketID,
		Value:    value,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "threshold %s set at %s scope\n", rec.Value.String(), rec.Scope)
	return nil
}

// UnsetThreshold removes a threshold at the given scope.
func (a *App) UnsetThreshold(ctx context.Context, userID int64, args ThresholdScopeArgs) error {
	scope, protocol, err := args.resolve()
	if err != nil {
		return err
	}

	store, closeStore, err := a.mustStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	removed, err := store.DeleteThreshold(ctx, userID, scope, protocol, args.MarketID)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintln(os.Stdout, "no threshold at that scope")
		return nil
	}
	fmt.Fprintln(os.Stdout, "threshold removed")
	return nil
}

// ListThresholds prints a user's thresholds, most specific first.
func (a *App) ListThresholds(ctx context.Context, userID int64) error {
	store, closeStore, err := a.mustStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rows, err := store.ListThresholds(ctx, userID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "no thresholds configured")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Scope\tProtocol\tMarket\tAlert below")
	for _, rec := range rows {
		protocol := rec.Protocol
		if protocol == "" {
			protocol = "-"
		}
		market := rec.MarketID
		if market == "" {
			market = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", rec.Scope, protocol, market, rec.Value.String())
	}
	writer.Flush()
	return nil
}
