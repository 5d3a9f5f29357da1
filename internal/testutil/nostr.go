package testutil

import (
	"bytes"
	"context"
	"testing"

	"nostr-desk/internal/identity"
	"nostr-desk/internal/nostr"
	"nostr-desk/internal/store"
	"nostr-desk/internal/types"
)

// NewTestStore creates an in-memory store with migrations applied and the
// local public key recorded. It is closed when the test completes.
func NewTestStore(t *testing.T, localPubKey string) *store.Store {
	t.Helper()

	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if localPubKey != "" {
		if err := s.SetLocalPubKey(context.Background(), localPubKey); err != nil {
			t.Fatalf("failed to set local pubkey: %v", err)
		}
	}
	return s
}

// NewKeys returns deterministic keys derived from seed (any non-zero byte).
func NewKeys(t *testing.T, seed byte) *identity.Keys {
	t.Helper()

	keys, err := identity.FromBytes(bytes.Repeat([]byte{seed}, 32))
	if err != nil {
		t.Fatalf("failed to derive keys: %v", err)
	}
	return keys
}

// SignedEvent builds and signs an event.
func SignedEvent(t *testing.T, keys *identity.Keys, createdAt int64, kind int, tags [][]string, content string) types.Event {
	t.Helper()

	evt := types.Event{CreatedAt: createdAt, Kind: kind, Tags: tags, Content: content}
	if evt.Tags == nil {
		evt.Tags = [][]string{}
	}
	if err := nostr.Sign(&evt, keys.PrivateKey()); err != nil {
		t.Fatalf("failed to sign event: %v", err)
	}
	return evt
}
