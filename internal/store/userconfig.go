package store

import (
	"context"
)

// UserConfig is the singleton row of local settings learned at runtime.
type UserConfig struct {
	PubKey            string
	ClockOffsetMillis int64
	UpdatedAt         int64
}

// FetchUserConfig returns the singleton user configuration.
func (s *Store) FetchUserConfig(ctx context.Context) (UserConfig, error) {
	var uc UserConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT pubkey, clock_offset_ms, updated_at FROM user_config WHERE id = 1`).
		Scan(&uc.PubKey, &uc.ClockOffsetMillis, &uc.UpdatedAt)
	return uc, storageErr("fetch user config", err)
}

// SetClockOffset persists the learned clock offset in milliseconds.
func (s *Store) SetClockOffset(ctx context.Context, offsetMillis int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_config SET clock_offset_ms = ?, updated_at = ? WHERE id = 1`, offsetMillis, s.nowMillis())
	return storageErr("set clock offset", err)
}

// SetLocalPubKey records the public key of the local user.
func (s *Store) SetLocalPubKey(ctx context.Context, pubkey string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_config SET pubkey = ?, updated_at = ? WHERE id = 1`, pubkey, s.nowMillis())
	return storageErr("set local pubkey", err)
}
