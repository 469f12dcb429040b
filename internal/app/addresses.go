package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lending-health-alerts/internal/storage"
)

// AddAddress registers (or relabels) a monitored address for a user.
func (a *App) AddAddress(ctx context.Context, userID int64, address, label string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid address %q", address)
	}

	store, closeStore, err := a.mustStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rec, err := store.UpsertAddress(ctx, storage.MonitoredAddress{
		UserID:  userID,
		Address: address,
		Label:   label,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "monitoring %s", rec.Address)
	if rec.Label != "" {
		fmt.Fprintf(os.Stdout, " (%s)", rec.Label)
	}
	fmt.Fprintln(os.Stdout)
	return nil
}

// RemoveAddress stops monitoring an address for a user.
func (a *App) RemoveAddress(ctx context.Context, userID int64, address string) error {
	store, closeStore, err := a.mustStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	removed, err := store.DeleteAddress(ctx, userID, address)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintln(os.Stdout, "address was not monitored")
		return nil
	}
	fmt.Fprintln(os.Stdout, "address removed")
	return nil
}

// ListAddresses prints a user's monitored addresses.
func (a *App) ListAddresses(ctx context.Context, userID int64) error {
	store, closeStore, err := a.mustStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	addresses, err := store.ListAddresses(ctx, userID)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		fmt.Fprintln(os.Stdout, "no monitored addresses")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Address\tLabel\tSince (UTC)")
	for _, rec := range addresses {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", rec.Address, rec.Label, rec.CreatedAt.UTC().Format(time.RFC3339))
	}
	writer.Flush()
	return nil
}
