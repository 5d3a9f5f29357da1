package store

import (
	"context"
	"fmt"

	"nostr-desk/internal/types"
)

// InsertMessage stores a decrypted direct message. The event must already be
// stored. Inserting the same event twice is a no-op.
func (s *Store) InsertMessage(ctx context.Context, m types.DirectMessage) error {
	return storageErr("insert message", insertMessage(ctx, s.db, m))
}

func insertMessage(ctx context.Context, q querier, m types.DirectMessage) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO messages (event_hash, contact_pubkey, from_pubkey, to_pubkey, is_from_user, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_hash) DO NOTHING`,
		m.EventID, m.ContactPubKey, m.FromPubKey, m.ToPubKey, boolToInt(m.IsFromUser), m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// FetchMessages returns the conversation with contactPubKey, oldest first.
func (s *Store) FetchMessages(ctx context.Context, contactPubKey string) ([]types.DirectMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_hash, contact_pubkey, from_pubkey, to_pubkey, is_from_user, content, created_at
		FROM messages WHERE contact_pubkey = ?
		ORDER BY created_at, event_hash`, contactPubKey)
	if err != nil {
		return nil, storageErr("fetch messages", err)
	}
	defer rows.Close()

	var msgs []types.DirectMessage
	for rows.Next() {
		var m types.DirectMessage
		if err := rows.Scan(&m.EventID, &m.ContactPubKey, &m.FromPubKey, &m.ToPubKey,
			&m.IsFromUser, &m.Content, &m.CreatedAt); err != nil {
			return nil, storageErr("fetch messages", fmt.Errorf("scanning message: %w", err))
		}
		msgs = append(msgs, m)
	}
	return msgs, storageErr("fetch messages", rows.Err())
}

// InsertChannelMessage stores a channel message. The event must already be
// stored. Inserting the same event twice is a no-op.
func (s *Store) InsertChannelMessage(ctx context.Context, m types.ChannelMessage) error {
	return storageErr("insert channel message", insertChannelMessage(ctx, s.db, m))
}

func insertChannelMessage(ctx context.Context, q querier, m types.ChannelMessage) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO channel_messages (event_hash, channel_id, author_pubkey, is_from_user, reply_to, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_hash) DO NOTHING`,
		m.EventID, m.ChannelID, m.AuthorKey, boolToInt(m.IsFromUser), m.ReplyTo, m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting channel message: %w", err)
	}
	return nil
}

// FetchChannelMessages returns the messages of channelID, oldest first.
func (s *Store) FetchChannelMessages(ctx context.Context, channelID string) ([]types.ChannelMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_hash, channel_id, author_pubkey, is_from_user, reply_to, content, created_at
		FROM channel_messages WHERE channel_id = ?
		ORDER BY created_at, event_hash`, channelID)
	if err != nil {
		return nil, storageErr("fetch channel messages", err)
	}
	defer rows.Close()

	var msgs []types.ChannelMessage
	for rows.Next() {
		var m types.ChannelMessage
		if err := rows.Scan(&m.EventID, &m.ChannelID, &m.AuthorKey, &m.IsFromUser,
			&m.ReplyTo, &m.Content, &m.CreatedAt); err != nil {
			return nil, storageErr("fetch channel messages", fmt.Errorf("scanning message: %w", err))
		}
		msgs = append(msgs, m)
	}
	return msgs, storageErr("fetch channel messages", rows.Err())
}
