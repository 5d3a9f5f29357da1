package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"nostr-desk/internal/types"
)

const channelColumns = `channel_id, creator_pubkey, created_at, metadata, updated_event_hash, updated_at`

func scanChannel(row interface{ Scan(...any) error }) (*types.ChannelCache, error) {
	var cc types.ChannelCache
	var meta string
	var updatedHash sql.NullString
	if err := row.Scan(&cc.ChannelID, &cc.CreatorPubKey, &cc.CreatedAt, &meta, &updatedHash, &cc.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &cc.Metadata); err != nil {
		return nil, fmt.Errorf("decoding channel metadata of %s: %w", cc.ChannelID, err)
	}
	cc.UpdatedEventHash = stringPtr(updatedHash)
	return &cc, nil
}

func fetchChannel(ctx context.Context, q querier, channelID string) (*types.ChannelCache, error) {
	cc, err := scanChannel(q.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channel_cache WHERE channel_id = ?`, channelID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cc, err
}

// FetchOrInsertChannelCache returns the cache entry for cc.ChannelID,
// inserting cc when there is none. inserted reports which happened.
func (s *Store) FetchOrInsertChannelCache(ctx context.Context, cc types.ChannelCache) (result types.ChannelCache, inserted bool, err error) {
	err = s.withTx(ctx, "fetch or insert channel", func(tx *sql.Tx) error {
		result, inserted, err = fetchOrInsertChannel(ctx, tx, cc)
		return err
	})
	return result, inserted, err
}

func fetchOrInsertChannel(ctx context.Context, q querier, cc types.ChannelCache) (types.ChannelCache, bool, error) {
	meta, err := json.Marshal(cc.Metadata)
	if err != nil {
		return types.ChannelCache{}, false, fmt.Errorf("encoding metadata: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO channel_cache (`+channelColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel_id) DO NOTHING`,
		cc.ChannelID, cc.CreatorPubKey, cc.CreatedAt, string(meta), nullString(cc.UpdatedEventHash), cc.UpdatedAt)
	if err != nil {
		return types.ChannelCache{}, false, fmt.Errorf("inserting channel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.ChannelCache{}, false, err
	}
	if n > 0 {
		return cc, true, nil
	}
	existing, err := fetchChannel(ctx, q, cc.ChannelID)
	if err != nil {
		return types.ChannelCache{}, false, err
	}
	return *existing, false, nil
}

// UpdateChannelMetadata replaces the channel metadata when updatedAt (ms) is
// newer than the cached one. updated is false when the channel is unknown or
// the cached state is at least as new.
func (s *Store) UpdateChannelMetadata(ctx context.Context, channelID string, meta types.ChannelMetadata, eventHash string, updatedAt int64) (bool, error) {
	updated, err := updateChannelMetadata(ctx, s.db, ChannelUpdate{
		ChannelID: channelID,
		Metadata:  meta,
		EventHash: eventHash,
		UpdatedAt: updatedAt,
	})
	return updated, storageErr("update channel metadata", err)
}

func updateChannelMetadata(ctx context.Context, q querier, u ChannelUpdate) (bool, error) {
	b, err := json.Marshal(u.Metadata)
	if err != nil {
		return false, fmt.Errorf("encoding metadata: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		UPDATE channel_cache SET metadata = ?, updated_event_hash = ?, updated_at = ?
		WHERE channel_id = ? AND updated_at < ?`,
		string(b), u.EventHash, u.UpdatedAt, u.ChannelID, u.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("updating channel metadata: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// FetchChannelCache returns the cache entry for channelID, or nil.
func (s *Store) FetchChannelCache(ctx context.Context, channelID string) (*types.ChannelCache, error) {
	cc, err := fetchChannel(ctx, s.db, channelID)
	return cc, storageErr("fetch channel", err)
}

// FetchChannelCaches returns every known channel.
func (s *Store) FetchChannelCaches(ctx context.Context) ([]types.ChannelCache, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+channelColumns+` FROM channel_cache ORDER BY created_at, channel_id`)
	if err != nil {
		return nil, storageErr("fetch channels", err)
	}
	defer rows.Close()

	var channels []types.ChannelCache
	for rows.Next() {
		cc, err := scanChannel(rows)
		if err != nil {
			return nil, storageErr("fetch channels", err)
		}
		channels = append(channels, *cc)
	}
	return channels, storageErr("fetch channels", rows.Err())
}
