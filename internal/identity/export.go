package identity

import (
	"fmt"
	"os"

	"github.com/skip2/go-qrcode"
	"golang.org/x/term"
)

// QRCode renders the npub as a PNG QR code ("nostr:" URI, NIP-21).
func (k *Keys) QRCode(size int) ([]byte, error) {
	png, err := qrcode.Encode("nostr:"+k.Npub(), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encoding qr code: %w", err)
	}
	return png, nil
}

// ReadPassphrase prompts on stderr and reads a passphrase from the terminal
// without echo. When stdin is not a terminal the NOSTR_DESK_PASSPHRASE
// environment variable is used.
func ReadPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if p := os.Getenv("NOSTR_DESK_PASSPHRASE"); p != "" {
			return p, nil
		}
		return "", fmt.Errorf("stdin is not a terminal and NOSTR_DESK_PASSPHRASE is not set")
	}
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pass), nil
}
