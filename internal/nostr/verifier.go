package nostr

import (
	"context"
	"log/slog"
	"time"

	"nostr-desk/internal/cache"
	"nostr-desk/internal/types"
)

// Verifier checks events, remembering ids whose signature already verified so
// the same event relayed by several relays is only checked once.
type Verifier struct {
	cache cache.Backend
	ttl   time.Duration
}

// NewVerifier returns a Verifier backed by c. A nil cache disables memoization.
func NewVerifier(c cache.Backend, ttl time.Duration) *Verifier {
	return &Verifier{cache: c, ttl: ttl}
}

// Verify behaves like the package level Verify.
func (v *Verifier) Verify(ctx context.Context, evt *types.Event) error {
	if v == nil || v.cache == nil {
		return Verify(evt)
	}

	key := "verified:" + evt.ID
	// The cached value is the signature that verified: a forged signature over
	// a known id still takes the slow path.
	if sig, found, err := v.cache.Get(ctx, key); err == nil && found && string(sig) == evt.Sig {
		if IsHexKey(evt.PubKey) && EventID(evt) == evt.ID {
			return nil
		}
	} else if err != nil {
		slog.Debug("verification cache unavailable", "error", err)
	}

	if err := Verify(evt); err != nil {
		return err
	}
	if err := v.cache.Set(ctx, key, []byte(evt.Sig), v.ttl); err != nil {
		slog.Debug("verification cache write failed", "event_id", ShortID(evt.ID), "error", err)
	}
	return nil
}
