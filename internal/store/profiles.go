package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"nostr-desk/internal/types"
)

func fetchProfileCache(ctx context.Context, q querier, pubkey string) (*types.ProfileCache, error) {
	var pc types.ProfileCache
	var meta string
	err := q.QueryRowContext(ctx, `
		SELECT pubkey, metadata, event_hash, updated_at FROM profile_cache WHERE pubkey = ?`, pubkey).
		Scan(&pc.PubKey, &meta, &pc.EventHash, &pc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &pc.Metadata); err != nil {
		return nil, fmt.Errorf("decoding cached profile of %s: %w", pubkey, err)
	}
	return &pc, nil
}

// FetchProfileCache returns the cached profile of pubkey, or nil.
func (s *Store) FetchProfileCache(ctx context.Context, pubkey string) (*types.ProfileCache, error) {
	pc, err := fetchProfileCache(ctx, s.db, pubkey)
	return pc, storageErr("fetch profile cache", err)
}

// UpsertProfileCache stores pc when it is newer than the cached entry, and
// copies the profile onto the matching contact in the same transaction.
// updated is false when the cached entry was at least as new.
func (s *Store) UpsertProfileCache(ctx context.Context, pc types.ProfileCache) (updated bool, err error) {
	err = s.withTx(ctx, "upsert profile cache", func(tx *sql.Tx) error {
		updated, err = s.upsertProfileCache(ctx, tx, pc)
		return err
	})
	return updated, err
}

func (s *Store) upsertProfileCache(ctx context.Context, q querier, pc types.ProfileCache) (bool, error) {
	meta, err := json.Marshal(pc.Metadata)
	if err != nil {
		return false, fmt.Errorf("encoding profile: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO profile_cache (pubkey, metadata, event_hash, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (pubkey) DO UPDATE SET
			metadata = excluded.metadata,
			event_hash = excluded.event_hash,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at > profile_cache.updated_at`,
		pc.PubKey, string(meta), pc.EventHash, pc.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("writing profile cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE contacts SET profile = ?, updated_at = ? WHERE pubkey = ?`,
		string(meta), s.nowMillis(), pc.PubKey); err != nil {
		return false, fmt.Errorf("updating contact profile: %w", err)
	}
	return true, nil
}
