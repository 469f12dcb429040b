package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints a user's recent health samples.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.mustStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	samples, err := store.ListRecentSamples(ctx, opts.UserID, opts.Limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAddress\tProtocol\tMarket\tHealth\tCollateral\tDebt\tStatus\tError")

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = sanitizeInline(*sample.Error)
		}
		health := "-"
		if sample.Health != nil {
			health = sample.Health.StringFixed(3)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			sample.CheckedAt.UTC().Format(time.RFC3339),
			sample.Address,
			sample.Protocol,
			sample.MarketLabel,
			health,
			sample.CollateralUSD.StringFixed(2),
			sample.DebtUSD.StringFixed(2),
			sample.Status,
			errMsg,
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
