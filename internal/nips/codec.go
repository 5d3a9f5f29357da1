package nips

import (
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/puzpuzpuz/xsync"
)

// Codec encrypts and decrypts kind 4 payloads for one local identity,
// caching the per-peer shared secrets.
type Codec struct {
	priv    *btcec.PrivateKey
	secrets *xsync.MapOf[string, []byte] // NIP-04 shared secrets by peer
	convs   *xsync.MapOf[string, []byte] // NIP-44 conversation keys by peer
}

// NewCodec returns a Codec for the given private key.
func NewCodec(priv *btcec.PrivateKey) *Codec {
	return &Codec{
		priv:    priv,
		secrets: xsync.NewMapOf[[]byte](),
		convs:   xsync.NewMapOf[[]byte](),
	}
}

func (c *Codec) sharedSecret(peer string) ([]byte, error) {
	if secret, ok := c.secrets.Load(peer); ok {
		return secret, nil
	}
	secret, err := SharedSecret(c.priv, peer)
	if err != nil {
		return nil, err
	}
	c.secrets.Store(peer, secret)
	return secret, nil
}

func (c *Codec) conversationKey(peer string) ([]byte, error) {
	if key, ok := c.convs.Load(peer); ok {
		return key, nil
	}
	key, err := ConversationKey(c.priv, peer)
	if err != nil {
		return nil, err
	}
	c.convs.Store(peer, key)
	return key, nil
}

// Encrypt produces the content of a kind 4 event addressed to peer (NIP-04).
func (c *Codec) Encrypt(peer, plaintext string) (string, error) {
	secret, err := c.sharedSecret(peer)
	if err != nil {
		return "", err
	}
	return Nip04Encrypt(plaintext, secret)
}

// Decrypt opens a payload exchanged with peer. NIP-04 payloads carry an
// "?iv=" suffix; anything else is treated as NIP-44.
func (c *Codec) Decrypt(peer, payload string) (string, error) {
	if strings.Contains(payload, "?iv=") {
		secret, err := c.sharedSecret(peer)
		if err != nil {
			return "", decryptionError(err.Error())
		}
		return Nip04Decrypt(payload, secret)
	}
	key, err := c.conversationKey(peer)
	if err != nil {
		return "", decryptionError(err.Error())
	}
	return Nip44Decrypt(payload, key)
}
