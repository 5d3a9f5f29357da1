package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"nostr-desk/internal/types"
)

const contactColumns = `pubkey, petname, relay_url, profile, unseen_messages, created_at, updated_at`

func scanContact(row interface{ Scan(...any) error }) (*types.Contact, error) {
	var c types.Contact
	var petname, relay, profile sql.NullString
	if err := row.Scan(&c.PubKey, &petname, &relay, &profile, &c.UnseenMessages, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Petname = stringPtr(petname)
	c.RelayURL = stringPtr(relay)
	if profile.Valid && profile.String != "" {
		var p types.ProfileInfo
		if err := json.Unmarshal([]byte(profile.String), &p); err != nil {
			return nil, fmt.Errorf("decoding profile of %s: %w", c.PubKey, err)
		}
		c.Profile = &p
	}
	return &c, nil
}

func encodeProfile(p *types.ProfileInfo) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding profile: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func fetchContact(ctx context.Context, q querier, pubkey string) (*types.Contact, error) {
	c, err := scanContact(q.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE pubkey = ?`, pubkey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func localPubKey(ctx context.Context, q querier) (string, error) {
	var pk string
	if err := q.QueryRowContext(ctx, `SELECT pubkey FROM user_config WHERE id = 1`).Scan(&pk); err != nil {
		return "", fmt.Errorf("reading local pubkey: %w", err)
	}
	return pk, nil
}

// cachedProfile returns the profile cached for pubkey, or nil.
func cachedProfile(ctx context.Context, q querier, pubkey string) (*types.ProfileInfo, error) {
	pc, err := fetchProfileCache(ctx, q, pubkey)
	if err != nil || pc == nil {
		return nil, err
	}
	return &pc.Metadata, nil
}

// insertContact inserts c, filling the profile from the profile cache.
func (s *Store) insertContact(ctx context.Context, q querier, c *types.Contact, now int64) error {
	if c.Profile == nil {
		p, err := cachedProfile(ctx, q, c.PubKey)
		if err != nil {
			return err
		}
		c.Profile = p
	}
	profile, err := encodeProfile(c.Profile)
	if err != nil {
		return err
	}
	c.CreatedAt, c.UpdatedAt = now, now
	_, err = q.ExecContext(ctx, `
		INSERT INTO contacts (`+contactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.PubKey, nullString(c.Petname), nullString(c.RelayURL), profile, c.UnseenMessages, now, now)
	if err != nil {
		return fmt.Errorf("inserting contact %s: %w", c.PubKey, err)
	}
	return nil
}

// UpsertContact inserts c or updates the petname and relay of an existing
// contact. Unseen counters and the cached profile are kept. created reports
// whether a new row was inserted.
func (s *Store) UpsertContact(ctx context.Context, c types.Contact) (contact types.Contact, created bool, err error) {
	err = s.withTx(ctx, "upsert contact", func(tx *sql.Tx) error {
		local, err := localPubKey(ctx, tx)
		if err != nil {
			return err
		}
		if local != "" && c.PubKey == local {
			return ErrSelfContact
		}

		existing, err := fetchContact(ctx, tx, c.PubKey)
		if err != nil {
			return err
		}
		now := s.nowMillis()
		if existing == nil {
			created = true
			contact = c
			return s.insertContact(ctx, tx, &contact, now)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE contacts SET petname = ?, relay_url = ?, updated_at = ? WHERE pubkey = ?`,
			nullString(c.Petname), nullString(c.RelayURL), now, c.PubKey); err != nil {
			return fmt.Errorf("updating contact: %w", err)
		}
		contact = *existing
		contact.Petname, contact.RelayURL, contact.UpdatedAt = c.Petname, c.RelayURL, now
		return nil
	})
	return contact, created, err
}

// InsertContactIfAbsent makes sure a contact row exists for pubkey.
// created reports whether it had to be inserted.
func (s *Store) InsertContactIfAbsent(ctx context.Context, pubkey string) (contact types.Contact, created bool, err error) {
	err = s.withTx(ctx, "insert contact", func(tx *sql.Tx) error {
		contact, created, err = s.insertContactIfAbsent(ctx, tx, pubkey)
		return err
	})
	return contact, created, err
}

func (s *Store) insertContactIfAbsent(ctx context.Context, q querier, pubkey string) (types.Contact, bool, error) {
	local, err := localPubKey(ctx, q)
	if err != nil {
		return types.Contact{}, false, err
	}
	if local != "" && pubkey == local {
		return types.Contact{}, false, ErrSelfContact
	}
	existing, err := fetchContact(ctx, q, pubkey)
	if err != nil {
		return types.Contact{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}
	contact := types.Contact{PubKey: pubkey}
	if err := s.insertContact(ctx, q, &contact, s.nowMillis()); err != nil {
		return types.Contact{}, false, err
	}
	return contact, true, nil
}

// FetchContact returns the contact for pubkey, or nil.
func (s *Store) FetchContact(ctx context.Context, pubkey string) (*types.Contact, error) {
	c, err := fetchContact(ctx, s.db, pubkey)
	return c, storageErr("fetch contact", err)
}

// FetchContacts returns every contact ordered by pubkey.
func (s *Store) FetchContacts(ctx context.Context) ([]types.Contact, error) {
	contacts, err := fetchContacts(ctx, s.db)
	return contacts, storageErr("fetch contacts", err)
}

func fetchContacts(ctx context.Context, q querier) ([]types.Contact, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+contactColumns+` FROM contacts ORDER BY pubkey`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []types.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

// DeleteContact removes the contact. deleted is false when it did not exist.
func (s *Store) DeleteContact(ctx context.Context, pubkey string) (deleted bool, err error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE pubkey = ?`, pubkey)
	if err != nil {
		return false, storageErr("delete contact", err)
	}
	n, err := res.RowsAffected()
	return n > 0, storageErr("delete contact", err)
}

// DeleteAllContacts empties the contact table.
func (s *Store) DeleteAllContacts(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM contacts`)
	return storageErr("delete all contacts", err)
}

// IncrementUnseen bumps the unseen counter of the contact and returns the new
// value.
func (s *Store) IncrementUnseen(ctx context.Context, pubkey string) (int64, error) {
	n, err := s.incrementUnseen(ctx, s.db, pubkey)
	return n, storageErr("increment unseen", err)
}

func (s *Store) incrementUnseen(ctx context.Context, q querier, pubkey string) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `
		UPDATE contacts SET unseen_messages = unseen_messages + 1, updated_at = ?
		WHERE pubkey = ? RETURNING unseen_messages`, s.nowMillis(), pubkey).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing unseen: %w", err)
	}
	return n, nil
}

// ResetUnseen sets the unseen counter of the contact to zero.
func (s *Store) ResetUnseen(ctx context.Context, pubkey string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE contacts SET unseen_messages = 0, updated_at = ? WHERE pubkey = ?`, s.nowMillis(), pubkey)
	return storageErr("reset unseen", err)
}

// ReplaceContactList swaps the local contact list in one transaction: the
// previous contact list event (oldID, may be empty) and every contact are
// deleted, then evt and contacts are inserted. Unseen counters and cached
// profiles of keys present before and after are carried over. The inserted
// contacts are returned in the order given. Nothing changes if any step fails.
func (s *Store) ReplaceContactList(ctx context.Context, oldID string, evt *types.Event, relayURL string, contacts []types.Contact) ([]types.Contact, error) {
	var created []types.Contact
	err := s.withTx(ctx, "replace contact list", func(tx *sql.Tx) error {
		previous, err := fetchContacts(ctx, tx)
		if err != nil {
			return fmt.Errorf("reading contacts: %w", err)
		}
		carried := make(map[string]types.Contact, len(previous))
		for _, c := range previous {
			carried[c.PubKey] = c
		}

		if oldID != "" {
			if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE hash = ?`, oldID); err != nil {
				return fmt.Errorf("deleting previous contact list: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM contacts`); err != nil {
			return fmt.Errorf("deleting contacts: %w", err)
		}
		if _, _, err := s.insertEvent(ctx, tx, evt, relayURL); err != nil {
			return err
		}

		now := s.nowMillis()
		created = make([]types.Contact, 0, len(contacts))
		for _, c := range contacts {
			if prev, ok := carried[c.PubKey]; ok {
				c.UnseenMessages = prev.UnseenMessages
				if c.Profile == nil {
					c.Profile = prev.Profile
				}
			}
			if err := s.insertContact(ctx, tx, &c, now); err != nil {
				return err
			}
			created = append(created, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
