package cli

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Sync runs one full replication round against the server.
func (a *App) Sync(ctx context.Context) error {
	s, err := a.getSyncer(ctx)
	if err != nil {
		fmt.Println("Error:", err)
		return err
	}
	if err := s.Sync(ctx); err != nil {
		fmt.Println("Sync failed:", err)
		return err
	}
	fmt.Println("Synced.")
	return nil
}

// Devices prints the device list from the last broadcast. A sync round is
// run first so the list is fresh.
func (a *App) Devices(ctx context.Context) error {
	s, err := a.getSyncer(ctx)
	if err != nil {
		fmt.Println("Error:", err)
		return err
	}
	if err := s.Sync(ctx); err != nil {
		fmt.Println("Sync failed:", err)
		return err
	}

	a.mu.Lock()
	devices := a.devices
	a.mu.Unlock()

	if len(devices) == 0 {
		fmt.Println("No devices connected.")
		return nil
	}
	for _, d := range devices {
		marker := " "
		if d.Self {
			marker = "*"
		}
		seen := time.UnixMilli(d.LastSeenAt).Format(time.DateTime)
		fmt.Printf("  %s %s %s %s (last seen %s)\n", marker, d.OS, d.Browser, d.DeviceType, seen)
	}
	return nil
}

// Stats prints the server-side usage numbers for this device's vault.
func (a *App) Stats(ctx context.Context) error {
	pair, err := a.keyPair(ctx)
	if err != nil {
		fmt.Println("No identity yet. Use 'create' or 'import' first.")
		return err
	}
	stats, err := a.registry.Stats(ctx, pair.PublicKeyHex())
	if err != nil {
		fmt.Println("Error:", err)
		return err
	}
	fmt.Printf("  key:     %s (%s)\n", stats.PublicKey, stats.Note)
	fmt.Printf("  storage: %d / %d bytes\n", stats.UsedStorageSize, stats.MaxStorageSize)
	fmt.Printf("  syncs:   %d\n", stats.SyncCount)
	if stats.LastSyncedAt != nil {
		fmt.Printf("  last:    %s\n", stats.LastSyncedAt.Format(time.DateTime))
	}
	return nil
}

// Destroy irreversibly deletes this identity's server-side journal and
// unregisters the vault.
func (a *App) Destroy(ctx context.Context) error {
	answer, err := GetSimpleText(a.reader, "This deletes the server-side journal permanently. Type 'yes' to continue", os.Stdout)
	if err != nil {
		return err
	}
	if answer != "yes" {
		fmt.Println("Aborted.")
		return nil
	}

	s, err := a.getSyncer(ctx)
	if err != nil {
		fmt.Println("Error:", err)
		return err
	}
	if err := s.Destroy(ctx); err != nil {
		fmt.Println("Destroy failed:", err)
		return err
	}
	fmt.Println("Server-side journal destroyed.")
	return nil
}
