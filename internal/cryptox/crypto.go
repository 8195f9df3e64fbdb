// Package cryptox provides payload sealing for journal entries. Entry
// payloads are opaque bytes to the journal and the sync protocol; this
// package is how the CLI client produces and consumes them.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/argon2"

	"github.com/dmitrijs2005/journalsync/internal/common"
)

const nonceSize = 12

var errShortCiphertext = errors.New("ciphertext shorter than nonce")

// DerivePayloadKey derives a 32-byte AES key from an identity seed using
// Argon2id. The salt binds the key to its purpose so the same seed can
// safely derive keys for other uses.
func DerivePayloadKey(seed []byte, salt []byte) []byte {
	return argon2.IDKey(seed, salt, 1, 64*1024, 4, 32)
}

// MakeVerifier returns a hash that can be stored to later check that a
// derived key matches without keeping the key itself.
func MakeVerifier(key []byte) []byte {
	hash := sha256.Sum256(key)
	return hash[:]
}

// Seal encrypts plaintext with AES-GCM under key. A fresh random nonce is
// generated per call and prepended to the returned ciphertext.
func Seal(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := common.GenerateRandByteArray(nonceSize)
	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a payload produced by Seal. The nonce is expected at the
// front of the ciphertext.
func Open(sealed, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < nonceSize {
		return nil, errShortCiphertext
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	return aesgcm.Open(nil, nonce, ciphertext, nil)
}
