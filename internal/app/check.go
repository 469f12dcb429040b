package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"lending-health-alerts/internal/position"
)

// Check runs an on-demand discovery for one address and prints every
// risk unit plus any per-protocol failures.
func (a *App) Check(ctx context.Context, opts CheckOptions) error {
	var filter position.ProtocolID
	if opts.Protocol != "" {
		parsed, err := position.ParseProtocolID(opts.Protocol)
		if err != nil {
			return err
		}
		filter = parsed
	}

	coordinator, err := a.newCoordinator()
	if err != nil {
		return err
	}

	units, failures := coordinator.DiscoverAll(ctx, opts.Address, filter)

	if len(units) == 0 && len(failures) == 0 {
		fmt.Fprintln(os.Stdout, "no positions found")
		return nil
	}

	if len(units) > 0 {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Protocol\tMarket\tHealth\tDrop to Liq.\tCollateral\tDebt")
		for _, unit := range units {
			drop := "-"
			if unit.Health.Defined() {
				drop = unit.LiquidationDropPct().StringFixed(1) + "%"
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
				unit.Protocol,
				unit.MarketLabel,
				unit.Health.String(),
				drop,
				formatSide(unit.Collateral, unit.TotalCollateralValue()),
				formatSide(unit.Debt, unit.TotalDebtValue()),
			)
		}
		writer.Flush()
	}

	for _, f := range failures {
		fmt.Fprintf(os.Stderr, "warning: %s could not be checked: %v\n", f.Protocol, f.Err)
	}
	return nil
}

// formatSide renders one side of a position. Sources that price their
// legs get the quote total; the rest get raw token amounts.
func formatSide(legs []position.Asset, total decimal.Decimal) string {
	if total.IsPositive() {
		return position.FormatQuoteValue(total)
	}
	if len(legs) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(legs))
	for _, leg := range legs {
		parts = append(parts, position.FormatAmount(leg.Amount)+" "+leg.Symbol)
	}
	return strings.Join(parts, " + ")
}
