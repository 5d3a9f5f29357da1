// Package identity manages the local user's key pair: generation, parsing,
// the passphrase protected key file and npub export.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"nostr-desk/internal/nips"
)

// Keys is the local identity.
type Keys struct {
	priv   *btcec.PrivateKey
	pubHex string
}

// Generate creates a new random identity.
func Generate() (*Keys, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating private key: %w", err)
	}
	return fromPrivateKey(priv), nil
}

// FromBytes builds an identity from a raw 32 byte secret key.
func FromBytes(secret []byte) (*Keys, error) {
	if len(secret) != 32 {
		return nil, errors.New("secret key must be 32 bytes")
	}
	priv, _ := btcec.PrivKeyFromBytes(secret)
	if priv.Key.IsZero() {
		return nil, errors.New("secret key is zero")
	}
	return fromPrivateKey(priv), nil
}

// Parse accepts a secret key as 64 hex characters or an nsec.
func Parse(s string) (*Keys, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), nips.HRPSecret+"1") {
		decoded, err := nips.DecodeKey(nips.HRPSecret, s)
		if err != nil {
			return nil, fmt.Errorf("decoding nsec: %w", err)
		}
		s = decoded
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.New("secret key must be 64 hex characters or an nsec")
	}
	return FromBytes(raw)
}

func fromPrivateKey(priv *btcec.PrivateKey) *Keys {
	return &Keys{
		priv:   priv,
		pubHex: hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
	}
}

// PrivateKey returns the signing key.
func (k *Keys) PrivateKey() *btcec.PrivateKey { return k.priv }

// PublicKey returns the x-only public key as hex.
func (k *Keys) PublicKey() string { return k.pubHex }

// SecretHex returns the secret key as hex.
func (k *Keys) SecretHex() string { return hex.EncodeToString(k.priv.Serialize()) }

// Npub returns the bech32 public key.
func (k *Keys) Npub() string {
	npub, _ := nips.EncodePubkey(k.pubHex)
	return npub
}

// Nsec returns the bech32 secret key.
func (k *Keys) Nsec() string {
	nsec, _ := nips.EncodeKey(nips.HRPSecret, k.SecretHex())
	return nsec
}
