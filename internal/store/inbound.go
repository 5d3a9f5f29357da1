package store

import (
	"context"
	"database/sql"

	"nostr-desk/internal/types"
)

// The Store* methods below write one inbound event together with everything
// derived from it in a single transaction. On error nothing is kept, so the
// same event can be applied again when a relay redelivers it. A duplicate
// event only records the relay acknowledgement.

// ChannelUpdate is a kind 41 metadata change for a cached channel.
type ChannelUpdate struct {
	ChannelID string
	Metadata  types.ChannelMetadata
	EventHash string
	UpdatedAt int64 // ms
}

// StoreMetadata stores a kind 0 event and, when pc is set, refreshes the
// profile cache and the matching contact. updated is false when the cached
// profile was at least as new.
func (s *Store) StoreMetadata(ctx context.Context, evt *types.Event, relayURL string, pc *types.ProfileCache) (inserted, updated bool, err error) {
	err = s.withTx(ctx, "store metadata", func(tx *sql.Tx) error {
		_, n, err := s.insertEvent(ctx, tx, evt, relayURL)
		if err != nil || n == 0 {
			return err
		}
		inserted = true
		if pc == nil {
			return nil
		}
		updated, err = s.upsertProfileCache(ctx, tx, *pc)
		return err
	})
	if err != nil {
		return false, false, err
	}
	return inserted, updated, nil
}

// DirectMessageWrite is everything one kind 4 event changes.
type DirectMessageWrite struct {
	Event *types.Event
	Relay string
	// Contact is created when absent. Empty leaves the contacts alone.
	Contact string
	// Message is nil when only the raw event can be kept.
	Message     *types.DirectMessage
	CountUnseen bool
}

// DirectMessageResult reports what StoreDirectMessage changed.
type DirectMessageResult struct {
	Inserted       bool
	Contact        types.Contact
	ContactCreated bool
}

// StoreDirectMessage applies w.
func (s *Store) StoreDirectMessage(ctx context.Context, w DirectMessageWrite) (DirectMessageResult, error) {
	var res DirectMessageResult
	err := s.withTx(ctx, "store direct message", func(tx *sql.Tx) error {
		_, n, err := s.insertEvent(ctx, tx, w.Event, w.Relay)
		if err != nil || n == 0 {
			return err
		}
		res.Inserted = true

		if w.Contact != "" {
			if res.Contact, res.ContactCreated, err = s.insertContactIfAbsent(ctx, tx, w.Contact); err != nil {
				return err
			}
		}
		if w.Message == nil {
			return nil
		}
		if err := insertMessage(ctx, tx, *w.Message); err != nil {
			return err
		}
		if w.CountUnseen && w.Contact != "" {
			unseen, err := s.incrementUnseen(ctx, tx, w.Contact)
			if err != nil {
				return err
			}
			res.Contact.UnseenMessages = unseen
		}
		return nil
	})
	if err != nil {
		return DirectMessageResult{}, err
	}
	return res, nil
}

// StoreChannelMessage stores a kind 42 event and its message row.
func (s *Store) StoreChannelMessage(ctx context.Context, evt *types.Event, relayURL string, m types.ChannelMessage) (inserted bool, err error) {
	err = s.withTx(ctx, "store channel message", func(tx *sql.Tx) error {
		_, n, err := s.insertEvent(ctx, tx, evt, relayURL)
		if err != nil || n == 0 {
			return err
		}
		inserted = true
		return insertChannelMessage(ctx, tx, m)
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// StoreChannel stores a kind 40 event and caches the channel. When update is
// set it is applied right after, for metadata that arrived before the
// channel. updated is the cache entry after the update, or nil.
func (s *Store) StoreChannel(ctx context.Context, evt *types.Event, relayURL string, cc types.ChannelCache, update *ChannelUpdate) (inserted bool, created types.ChannelCache, updated *types.ChannelCache, err error) {
	err = s.withTx(ctx, "store channel", func(tx *sql.Tx) error {
		_, n, err := s.insertEvent(ctx, tx, evt, relayURL)
		if err != nil || n == 0 {
			return err
		}
		inserted = true

		if created, _, err = fetchOrInsertChannel(ctx, tx, cc); err != nil {
			return err
		}
		if update == nil {
			return nil
		}
		ok, err := updateChannelMetadata(ctx, tx, *update)
		if err != nil || !ok {
			return err
		}
		next := created
		hash := update.EventHash
		next.Metadata, next.UpdatedEventHash, next.UpdatedAt = update.Metadata, &hash, update.UpdatedAt
		updated = &next
		return nil
	})
	if err != nil {
		return false, types.ChannelCache{}, nil, err
	}
	return inserted, created, updated, nil
}

// StoreChannelMetadata stores a kind 41 event and, when update is set,
// applies it to the cached channel.
func (s *Store) StoreChannelMetadata(ctx context.Context, evt *types.Event, relayURL string, update *ChannelUpdate) (inserted, updated bool, err error) {
	err = s.withTx(ctx, "store channel metadata", func(tx *sql.Tx) error {
		_, n, err := s.insertEvent(ctx, tx, evt, relayURL)
		if err != nil || n == 0 {
			return err
		}
		inserted = true
		if update == nil {
			return nil
		}
		updated, err = updateChannelMetadata(ctx, tx, *update)
		return err
	})
	if err != nil {
		return false, false, err
	}
	return inserted, updated, nil
}

// StoreRelayList stores a kind 10002 event and upserts its relays.
func (s *Store) StoreRelayList(ctx context.Context, evt *types.Event, relayURL string, relays []types.RelayInfo) (inserted bool, err error) {
	err = s.withTx(ctx, "store relay list", func(tx *sql.Tx) error {
		_, n, err := s.insertEvent(ctx, tx, evt, relayURL)
		if err != nil || n == 0 {
			return err
		}
		inserted = true
		for _, r := range relays {
			if err := s.upsertRelay(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}
