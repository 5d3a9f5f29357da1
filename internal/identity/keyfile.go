package identity

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// KeyFile stores the secret key encrypted with a passphrase (age scrypt
// recipient). The file holds the nsec, never the raw hex.
type KeyFile struct {
	Path string
	// WorkFactor is the scrypt log2(N); zero keeps age's default.
	WorkFactor int
}

// Exists reports whether the key file is present.
func (f KeyFile) Exists() bool {
	_, err := os.Stat(f.Path)
	return err == nil
}

// Save encrypts keys with passphrase and writes them to the file.
func (f KeyFile) Save(keys *Keys, passphrase string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if f.WorkFactor > 0 {
		recipient.SetWorkFactor(f.WorkFactor)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, keys.Nsec()+"\n"); err != nil {
		return fmt.Errorf("writing encrypted key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted key: %w", err)
	}

	if err := os.WriteFile(f.Path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}

// Load decrypts the key file with passphrase.
func (f KeyFile) Load(passphrase string) (*Keys, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting key file (wrong passphrase?): %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted key: %w", err)
	}
	return Parse(strings.TrimSpace(string(plain)))
}
