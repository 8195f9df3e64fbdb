// Package identity implements the device identity subsystem: BIP-39
// recovery phrases, deterministic key derivation, the local registry of
// public keys, and its reconciliation with the sync server.
package identity

import (
	"github.com/tyler-smith/go-bip39"

	"github.com/dmitrijs2005/journalsync/internal/common"
)

// mnemonicEntropyBits yields a 12-word phrase.
const mnemonicEntropyBits = 128

// NewMnemonic generates a fresh BIP-39 recovery phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// ValidateMnemonic checks the phrase's wordlist membership and checksum.
// Returns common.ErrInvalidMnemonic on failure.
func ValidateMnemonic(mnemonic string) error {
	if !bip39.IsMnemonicValid(mnemonic) {
		return common.ErrInvalidMnemonic
	}
	return nil
}
