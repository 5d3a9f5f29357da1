package store

import (
	"context"
	"fmt"

	"nostr-desk/internal/types"
)

// UpsertRelay adds the relay or updates its read and write flags.
func (s *Store) UpsertRelay(ctx context.Context, r types.RelayInfo) error {
	return storageErr("upsert relay", s.upsertRelay(ctx, s.db, r))
}

func (s *Store) upsertRelay(ctx context.Context, q querier, r types.RelayInfo) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO relays (url, read, write, status, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			read = excluded.read,
			write = excluded.write,
			updated_at = excluded.updated_at`,
		r.URL, boolToInt(r.Read), boolToInt(r.Write), r.Status, s.nowMillis())
	if err != nil {
		return fmt.Errorf("upserting relay %s: %w", r.URL, err)
	}
	return nil
}

// FetchRelays returns the relay table ordered by url.
func (s *Store) FetchRelays(ctx context.Context) ([]types.RelayInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url, read, write, status, updated_at FROM relays ORDER BY url`)
	if err != nil {
		return nil, storageErr("fetch relays", err)
	}
	defer rows.Close()

	var relays []types.RelayInfo
	for rows.Next() {
		var r types.RelayInfo
		if err := rows.Scan(&r.URL, &r.Read, &r.Write, &r.Status, &r.UpdatedAt); err != nil {
			return nil, storageErr("fetch relays", fmt.Errorf("scanning relay: %w", err))
		}
		relays = append(relays, r)
	}
	return relays, storageErr("fetch relays", rows.Err())
}

// SetRelayStatus records the last connection status of a known relay.
func (s *Store) SetRelayStatus(ctx context.Context, url, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE relays SET status = ?, updated_at = ? WHERE url = ?`, status, s.nowMillis(), url)
	return storageErr("set relay status", err)
}
