package identity

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"

	"github.com/dmitrijs2005/journalsync/internal/common"
)

// derivationDomain salts the master node so keys derived here can never
// collide with another application's derivation from the same seed.
const derivationDomain = "journalsync seed"

// derivationPath is the SLIP-21-style label path to the signing key.
var derivationPath = []string{"journalsync", "device-key"}

// KeyPair is a deterministic secp256k1 key pair derived from a mnemonic.
// The same mnemonic always yields the same pair; this is what makes
// recovery from a phrase possible.
type KeyPair struct {
	priv *secp256k1.PrivateKey
	seed []byte
}

// DeriveKeyPair derives the device key pair from a validated mnemonic.
//
// The BIP-39 seed feeds a domain-salted HMAC-SHA512 master node; each path
// label derives a child node SLIP-21 style (left half keys the HMAC, the
// label is prefixed with a zero byte); the final node's right half is the
// private scalar.
func DeriveKeyPair(mnemonic string) (*KeyPair, error) {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}
	seed := bip39.NewSeed(mnemonic, "")

	mac := hmac.New(sha512.New, []byte(derivationDomain))
	mac.Write(seed)
	node := mac.Sum(nil)

	for _, label := range derivationPath {
		mac := hmac.New(sha512.New, node[:32])
		mac.Write([]byte{0})
		mac.Write([]byte(label))
		node = mac.Sum(nil)
	}

	priv := secp256k1.PrivKeyFromBytes(node[32:])
	return &KeyPair{priv: priv, seed: seed}, nil
}

// PublicKey returns the compressed secp256k1 public key (33 bytes).
func (k *KeyPair) PublicKey() []byte {
	return k.priv.PubKey().SerializeCompressed()
}

// PublicKeyHex returns the compressed public key as lowercase hex; this is
// the identity string exchanged with the server.
func (k *KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(k.PublicKey())
}

// PrivateKey returns the private scalar bytes. Callers must not retain the
// slice longer than needed; it can be wiped with common.WipeByteArray.
func (k *KeyPair) PrivateKey() []byte {
	return k.priv.Serialize()
}

// Seed exposes the BIP-39 seed for purpose-salted secondary derivations
// (e.g. payload keys in cryptox).
func (k *KeyPair) Seed() []byte {
	return k.seed
}

// Wipe zeroizes the pair's seed material.
func (k *KeyPair) Wipe() {
	common.WipeByteArray(k.seed)
	k.priv.Zero()
}
