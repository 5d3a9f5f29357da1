// Package nostr implements the event model: canonical id hashing, signing,
// signature verification, kind classification and tag parsing.
package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"nostr-desk/internal/types"
)

// ErrInvalidEvent is matched by every InvalidEventError.
var ErrInvalidEvent = errors.New("invalid event")

// InvalidEventError reports why an event was rejected. Rejected events are
// never stored.
type InvalidEventError struct {
	EventID string
	Reason  string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid event %s: %s", ShortID(e.EventID), e.Reason)
}

func (e *InvalidEventError) Unwrap() error { return ErrInvalidEvent }

// ComputeID returns the NIP-01 event id: sha256 of
// [0,pubkey,created_at,kind,tags,content] serialized without HTML escaping.
func ComputeID(pubkey string, createdAt int64, kind int, tags [][]string, content string) string {
	if tags == nil {
		tags = [][]string{}
	}
	serialized := []interface{}{
		0,
		pubkey,
		createdAt,
		kind,
		tags,
		content,
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.Encode(serialized)

	// Encoder.Encode adds a trailing newline
	jsonBytes := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	hash := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(hash[:])
}

// EventID recomputes the id of evt from its fields.
func EventID(evt *types.Event) string {
	return ComputeID(evt.PubKey, evt.CreatedAt, evt.Kind, evt.Tags, evt.Content)
}

// ValidateEventSignature verifies Schnorr signature for a Nostr event
func ValidateEventSignature(evt *types.Event) bool {
	if len(evt.Sig) != 128 || len(evt.PubKey) != 64 {
		return false
	}

	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil {
		return false
	}
	pubKeyBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil {
		return false
	}
	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return false
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}

	return sig.Verify(idBytes, pubKey)
}

// Verify checks the structure, id and signature of evt.
func Verify(evt *types.Event) error {
	invalid := func(reason string) error {
		return &InvalidEventError{EventID: evt.ID, Reason: reason}
	}

	if !IsHexKey(evt.PubKey) {
		return invalid("malformed pubkey")
	}
	if !IsHexKey(evt.ID) {
		return invalid("malformed id")
	}
	for i, tag := range evt.Tags {
		if len(tag) == 0 {
			return invalid(fmt.Sprintf("empty tag at index %d", i))
		}
	}
	if EventID(evt) != evt.ID {
		return invalid("id does not match content")
	}
	if !ValidateEventSignature(evt) {
		return invalid("bad signature")
	}
	return nil
}

// Sign sets the author, id and signature of evt using priv.
func Sign(evt *types.Event, priv *btcec.PrivateKey) error {
	evt.PubKey = hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
	evt.ID = EventID(evt)

	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(priv, idBytes)
	if err != nil {
		return fmt.Errorf("signing event: %w", err)
	}
	evt.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// IsHexKey reports whether s is a 32 byte lowercase hex string (pubkeys and ids).
func IsHexKey(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ParseEventFromInterface converts raw websocket data to Event (avoids JSON re-encoding).
// The signature is not checked here; the reconciler verifies every event.
func ParseEventFromInterface(data interface{}) (types.Event, bool) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return types.Event{}, false
	}

	evt := types.Event{}

	if id, ok := m["id"].(string); ok {
		evt.ID = id
	}
	if pk, ok := m["pubkey"].(string); ok {
		evt.PubKey = pk
	}
	if createdAt, ok := m["created_at"].(float64); ok {
		evt.CreatedAt = int64(createdAt)
	}
	if kind, ok := m["kind"].(float64); ok {
		evt.Kind = int(kind)
	}
	if content, ok := m["content"].(string); ok {
		evt.Content = content
	}
	if sig, ok := m["sig"].(string); ok {
		evt.Sig = sig
	}

	if tags, ok := m["tags"].([]interface{}); ok {
		evt.Tags = make([][]string, 0, len(tags))
		for _, tag := range tags {
			tagArr, ok := tag.([]interface{})
			if !ok {
				// keep the slot so Verify rejects the event instead of hashing a different tag list
				evt.Tags = append(evt.Tags, nil)
				continue
			}
			strTag := make([]string, 0, len(tagArr))
			for _, elem := range tagArr {
				if s, ok := elem.(string); ok {
					strTag = append(strTag, s)
				}
			}
			evt.Tags = append(evt.Tags, strTag)
		}
	}

	return evt, evt.ID != ""
}

// ShortID truncates ID/pubkey to 12 chars for logging
func ShortID(id string) string {
	if len(id) >= 12 {
		return id[:12]
	}
	return id
}
