package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"nostr-desk/internal/nostr"
	"nostr-desk/internal/types"
)

const eventColumns = `id, hash, pubkey, created_at, kind, tags, content, sig, received_at, relay_url`

// InsertEvent stores evt unless an event with the same id exists. It returns
// the row id and the number of inserted rows: 0 marks a duplicate, in which
// case only the relay acknowledgement is recorded.
func (s *Store) InsertEvent(ctx context.Context, evt *types.Event, relayURL string) (rowID int64, rowsAffected int64, err error) {
	err = s.withTx(ctx, "insert event", func(tx *sql.Tx) error {
		rowID, rowsAffected, err = s.insertEvent(ctx, tx, evt, relayURL)
		return err
	})
	return rowID, rowsAffected, err
}

func (s *Store) insertEvent(ctx context.Context, q querier, evt *types.Event, relayURL string) (int64, int64, error) {
	tags := evt.Tags
	if tags == nil {
		tags = [][]string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return 0, 0, fmt.Errorf("encoding tags: %w", err)
	}

	var refChannel sql.NullString
	switch nostr.ClassifyKind(evt.Kind) {
	case nostr.KindChannelMetadata, nostr.KindChannelMessage:
		if info, err := nostr.ParseChannelTags(evt.Tags); err == nil {
			refChannel = sql.NullString{String: info.ChannelID, Valid: true}
		}
	}

	now := s.nowMillis()
	res, err := q.ExecContext(ctx, `
		INSERT INTO events (hash, pubkey, created_at, kind, tags, content, sig, received_at, relay_url, ref_channel_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (hash) DO NOTHING`,
		evt.ID, evt.PubKey, evt.CreatedAt, evt.Kind, string(tagsJSON), evt.Content, evt.Sig, now, relayURL, refChannel)
	if err != nil {
		return 0, 0, fmt.Errorf("inserting event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("reading rows affected: %w", err)
	}

	var rowID int64
	if affected > 0 {
		if rowID, err = res.LastInsertId(); err != nil {
			return 0, 0, fmt.Errorf("reading row id: %w", err)
		}
	} else if err := q.QueryRowContext(ctx, `SELECT id FROM events WHERE hash = ?`, evt.ID).Scan(&rowID); err != nil {
		return 0, 0, fmt.Errorf("finding existing event: %w", err)
	}

	if relayURL != "" {
		if err := addEventRelay(ctx, q, rowID, relayURL, now); err != nil {
			return 0, 0, err
		}
	}
	return rowID, affected, nil
}

func addEventRelay(ctx context.Context, q querier, rowID int64, relayURL string, seenAt int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO event_relays (event_id, relay_url, seen_at) VALUES (?, ?, ?)
		ON CONFLICT (event_id, relay_url) DO NOTHING`, rowID, relayURL, seenAt)
	if err != nil {
		return fmt.Errorf("recording relay %s: %w", relayURL, err)
	}
	return nil
}

// AddEventRelay records that relayURL has the event. Unknown events are ignored.
func (s *Store) AddEventRelay(ctx context.Context, eventID, relayURL string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_relays (event_id, relay_url, seen_at)
		SELECT id, ?, ? FROM events WHERE hash = ?
		ON CONFLICT (event_id, relay_url) DO NOTHING`, relayURL, s.nowMillis(), eventID)
	return storageErr("add event relay", err)
}

// EventRelays lists the relays known to hold the event, in order of arrival.
func (s *Store) EventRelays(ctx context.Context, eventID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.relay_url FROM event_relays r
		JOIN events e ON e.id = r.event_id
		WHERE e.hash = ?
		ORDER BY r.seen_at, r.relay_url`, eventID)
	if err != nil {
		return nil, storageErr("event relays", err)
	}
	defer rows.Close()

	var relays []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, storageErr("event relays", err)
		}
		relays = append(relays, url)
	}
	return relays, storageErr("event relays", rows.Err())
}

func scanEvent(row interface{ Scan(...any) error }) (*types.StoredEvent, error) {
	var se types.StoredEvent
	var tags string
	if err := row.Scan(&se.RowID, &se.ID, &se.PubKey, &se.CreatedAt, &se.Kind, &tags,
		&se.Content, &se.Sig, &se.ReceivedAt, &se.RelayURL); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &se.Tags); err != nil {
		return nil, fmt.Errorf("decoding tags of %s: %w", se.ID, err)
	}
	return &se, nil
}

func fetchOne(ctx context.Context, q querier, query string, args ...any) (*types.StoredEvent, error) {
	se, err := scanEvent(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return se, err
}

// FetchEvent returns the stored event with the given id, or nil.
func (s *Store) FetchEvent(ctx context.Context, id string) (*types.StoredEvent, error) {
	se, err := fetchOne(ctx, s.db, `SELECT `+eventColumns+` FROM events WHERE hash = ?`, id)
	return se, storageErr("fetch event", err)
}

// DeleteEvent removes the event and everything referencing it.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE hash = ?`, id)
	return storageErr("delete event", err)
}

// FetchLatestOfKind returns the newest stored event of kind by author, or nil.
func (s *Store) FetchLatestOfKind(ctx context.Context, kind int, author string) (*types.StoredEvent, error) {
	se, err := fetchOne(ctx, s.db, `
		SELECT `+eventColumns+` FROM events
		WHERE kind = ? AND pubkey = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, kind, author)
	return se, storageErr("fetch latest of kind", err)
}

// FetchLatestChannelMetadata returns the newest channel metadata event for
// channelID written by author, or nil.
func (s *Store) FetchLatestChannelMetadata(ctx context.Context, channelID, author string) (*types.StoredEvent, error) {
	se, err := fetchOne(ctx, s.db, `
		SELECT `+eventColumns+` FROM events
		WHERE ref_channel_id = ? AND kind = ? AND pubkey = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, channelID, nostr.KindNumChannelMeta, author)
	return se, storageErr("fetch channel metadata", err)
}

// LatestCreatedAt returns the newest created_at not after notAfter (unix
// seconds) of any stored event, or 0. Events dated later are ignored.
func (s *Store) LatestCreatedAt(ctx context.Context, notAfter int64) (int64, error) {
	var latest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM events WHERE created_at <= ?`, notAfter).Scan(&latest); err != nil {
		return 0, storageErr("latest created_at", err)
	}
	return latest.Int64, nil
}

// CountEvents returns the number of stored events.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, storageErr("count events", err)
	}
	return n, nil
}
