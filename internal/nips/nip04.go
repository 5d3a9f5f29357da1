package nips

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// ErrDecryption is matched by every failure to open a direct message payload.
var ErrDecryption = errors.New("decryption failed")

func decryptionError(reason string) error {
	return fmt.Errorf("%w: %s", ErrDecryption, reason)
}

// parseXOnlyPubKey parses a 32 byte hex x-only public key (BIP-340).
func parseXOnlyPubKey(pubKeyHex string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(pubKeyHex)
	if err != nil || len(raw) != 32 {
		return nil, errors.New("invalid public key")
	}
	pub, err := schnorr.ParsePubKey(raw)
	if err != nil {
		return nil, errors.New("invalid public key")
	}
	return pub, nil
}

// SharedSecret computes the NIP-04 shared secret: the x coordinate of the ECDH
// point, left padded to 32 bytes. SharedSecret(a, B) == SharedSecret(b, A).
func SharedSecret(priv *btcec.PrivateKey, pubKeyHex string) ([]byte, error) {
	if priv == nil {
		return nil, errors.New("invalid private key")
	}
	pub, err := parseXOnlyPubKey(pubKeyHex)
	if err != nil {
		return nil, err
	}

	// x.Bytes() may be shorter than 32 bytes when leading bytes are 0
	sharedX := btcec.GenerateSharedSecret(priv, pub)
	if len(sharedX) < 32 {
		padded := make([]byte, 32)
		copy(padded[32-len(sharedX):], sharedX)
		return padded, nil
	}
	return sharedX, nil
}

// Nip04Encrypt encrypts plaintext using NIP-04 (AES-256-CBC)
// Returns format: base64(ciphertext)?iv=base64(iv)
func Nip04Encrypt(plaintext string, sharedSecret []byte) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	return Nip04EncryptWithIV(plaintext, sharedSecret, iv)
}

// Nip04EncryptWithIV encrypts with a specific IV (for testing)
func Nip04EncryptWithIV(plaintext string, sharedSecret, iv []byte) (string, error) {
	if len(sharedSecret) != 32 {
		return "", errors.New("NIP-04 shared secret must be 32 bytes")
	}
	if len(iv) != aes.BlockSize {
		return "", errors.New("NIP-04 iv must be 16 bytes")
	}

	// PKCS7 padding
	plaintextBytes := []byte(plaintext)
	padding := aes.BlockSize - (len(plaintextBytes) % aes.BlockSize)
	padded := make([]byte, len(plaintextBytes)+padding)
	copy(padded, plaintextBytes)
	for i := len(plaintextBytes); i < len(padded); i++ {
		padded[i] = byte(padding)
	}

	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext) + "?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// Nip04Decrypt decrypts a NIP-04 encrypted payload
func Nip04Decrypt(payload string, sharedSecret []byte) (string, error) {
	parts := strings.Split(payload, "?iv=")
	if len(parts) != 2 {
		return "", decryptionError("invalid NIP-04 payload format")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", decryptionError("invalid ciphertext base64")
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", decryptionError("invalid IV base64")
	}
	if len(iv) != aes.BlockSize {
		return "", decryptionError("invalid IV length")
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", decryptionError("ciphertext is not a multiple of block size")
	}

	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return "", decryptionError(err.Error())
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	// Remove PKCS7 padding
	padding := int(plaintext[len(plaintext)-1])
	if padding > aes.BlockSize || padding == 0 {
		return "", decryptionError("invalid padding")
	}
	for i := len(plaintext) - padding; i < len(plaintext); i++ {
		if plaintext[i] != byte(padding) {
			return "", decryptionError("invalid padding bytes")
		}
	}

	return string(plaintext[:len(plaintext)-padding]), nil
}
