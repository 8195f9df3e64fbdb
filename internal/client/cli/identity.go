package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/journalsync/internal/common"
)

// Create generates a fresh mnemonic, derives the device identity from it
// and prints the phrase once for the user to write down.
func (a *App) Create(ctx context.Context) error {
	if a.isInitialized() {
		fmt.Println("This device already has an identity. Use 'clear' to replace it.")
		return nil
	}
	mnemonic, err := a.identity.CreateMnemonic(ctx)
	if err != nil {
		fmt.Println("Error:", err)
		return err
	}
	fmt.Println("Your recovery phrase (write it down, it is shown only once):")
	fmt.Println()
	fmt.Println("  " + mnemonic)
	fmt.Println()
	return nil
}

// Import derives the device identity from an existing mnemonic phrase.
func (a *App) Import(ctx context.Context) error {
	if a.isInitialized() {
		fmt.Println("This device already has an identity. Use 'clear' to replace it.")
		return nil
	}
	mnemonic, err := GetMnemonic(os.Stdout)
	if err != nil {
		return err
	}
	note, err := GetSimpleText(a.reader, "Device note (e.g. 'work laptop')", os.Stdout)
	if err != nil {
		return err
	}

	if err := a.identity.ImportFromMnemonic(ctx, mnemonic, note); err != nil {
		if errors.Is(err, common.ErrInvalidMnemonic) {
			fmt.Println("That is not a valid mnemonic phrase.")
			return nil
		}
		fmt.Println("Error:", err)
		return err
	}
	fmt.Println("Identity imported.")
	return nil
}

// Clear wipes the current identity and replaces it with a freshly
// generated one.
func (a *App) Clear(ctx context.Context) error {
	answer, err := GetSimpleText(a.reader, "This wipes the current identity. Type 'yes' to continue", os.Stdout)
	if err != nil {
		return err
	}
	if answer != "yes" {
		fmt.Println("Aborted.")
		return nil
	}
	mnemonic, err := a.identity.Clear(ctx)
	if err != nil {
		fmt.Println("Error:", err)
		return err
	}
	fmt.Println("New recovery phrase (write it down, it is shown only once):")
	fmt.Println()
	fmt.Println("  " + mnemonic)
	fmt.Println()
	return nil
}

// Keys prints the registered device keys known locally.
func (a *App) Keys(ctx context.Context) error {
	keys, err := a.identity.Keys(ctx)
	if err != nil {
		fmt.Println("Error:", err)
		return err
	}
	if len(keys) == 0 {
		fmt.Println("No registered keys.")
		return nil
	}
	for _, k := range keys {
		fmt.Printf("  %s  %s  (registered %s)\n", k.PublicKey, k.Note, k.CreatedAt.Format(time.DateOnly))
	}
	return nil
}
