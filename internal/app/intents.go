package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"nostr-desk/internal/compose"
	"nostr-desk/internal/nostr"
	"nostr-desk/internal/store"
	"nostr-desk/internal/types"
)

// ErrUnknownIntent is returned by DecodeIntent for an unrecognized type.
var ErrUnknownIntent = errors.New("unknown intent")

// DecodeIntent parses one JSON line of the form {"type": "send_dm", ...}.
func DecodeIntent(line []byte) (types.Intent, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return nil, fmt.Errorf("decoding intent: %w", err)
	}

	var intent types.Intent
	switch head.Type {
	case "send_dm":
		intent = &types.IntentSendDM{}
	case "update_profile":
		intent = &types.IntentUpdateProfile{}
	case "add_contact":
		intent = &types.IntentAddContact{}
	case "delete_contact":
		intent = &types.IntentDeleteContact{}
	case "connect_to_relay":
		intent = &types.IntentConnectToRelay{}
	case "create_channel":
		intent = &types.IntentCreateChannel{}
	case "update_channel":
		intent = &types.IntentUpdateChannel{}
	case "send_channel_message":
		intent = &types.IntentSendChannelMessage{}
	case "reset_unseen":
		intent = &types.IntentResetUnseen{}
	case "sync_clock":
		intent = &types.IntentSyncClock{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, head.Type)
	}
	if err := json.Unmarshal(line, intent); err != nil {
		return nil, fmt.Errorf("decoding %s intent: %w", head.Type, err)
	}
	return intent, nil
}

// HandleIntent carries out one UI request. Failures are also reported to the
// sink as an Error notification.
func (b *Backend) HandleIntent(ctx context.Context, intent types.Intent) error {
	err := b.handleIntent(ctx, intent)
	if err != nil {
		b.log.Warn("intent failed", "intent", intent.IntentName(), "error", err)
		n := types.ErrorNotification(intentError(intent, err))
		var pe *compose.PublishError
		if errors.As(err, &pe) {
			n.EventID = pe.EventID
		}
		b.sink.Notify(n)
	}
	return err
}

func (b *Backend) handleIntent(ctx context.Context, intent types.Intent) error {
	switch in := intent.(type) {
	case *types.IntentSendDM:
		_, err := b.composer.SendDM(ctx, in.To, in.Text)
		return err
	case *types.IntentUpdateProfile:
		_, err := b.composer.UpdateProfile(ctx, in.Profile)
		return err
	case *types.IntentAddContact:
		return b.AddContact(ctx, *in)
	case *types.IntentDeleteContact:
		return b.DeleteContact(ctx, in.PubKey)
	case *types.IntentConnectToRelay:
		return b.ConnectToRelay(ctx, in.URL)
	case *types.IntentCreateChannel:
		_, err := b.composer.CreateChannel(ctx, in.Metadata)
		return err
	case *types.IntentUpdateChannel:
		_, err := b.composer.UpdateChannel(ctx, in.ChannelID, in.Metadata)
		return err
	case *types.IntentSendChannelMessage:
		_, err := b.composer.SendChannelMessage(ctx, in.ChannelID, in.Text, in.ReplyTo)
		return err
	case *types.IntentResetUnseen:
		return b.ResetUnseen(ctx, in.PubKey)
	case types.IntentSyncClock, *types.IntentSyncClock:
		_, err := b.SyncClock(ctx)
		return err
	}
	return fmt.Errorf("%w: %T", ErrUnknownIntent, intent)
}

// intentError is the short summary shown to the user.
func intentError(intent types.Intent, err error) string {
	switch {
	case errors.Is(err, compose.ErrNetwork):
		return "could not reach any relay; the event is kept pending"
	case errors.Is(err, store.ErrSelfContact):
		return "you cannot add yourself as a contact"
	case errors.Is(err, store.ErrStorage):
		return "local storage failed while handling " + intent.IntentName()
	}
	return err.Error()
}

// AddContact stores the contact and republishes the contact list.
func (b *Backend) AddContact(ctx context.Context, in types.IntentAddContact) error {
	if !nostr.IsHexKey(in.PubKey) {
		return fmt.Errorf("%w: contact key is not hex", compose.ErrInvalidInput)
	}
	relayURL := in.RelayURL
	if relayURL != "" {
		if relayURL = nostr.NormalizeRelayURL(relayURL); relayURL == "" {
			return fmt.Errorf("%w: invalid relay url %q", compose.ErrInvalidInput, in.RelayURL)
		}
	}

	c, created, err := b.store.UpsertContact(ctx, types.NewContact(in.PubKey, relayURL, in.Petname))
	if err != nil {
		return err
	}
	nt := types.NotificationContactUpdated
	if created {
		nt = types.NotificationContactCreated
	}
	b.sink.Notify(types.Notification{Type: nt, PubKey: c.PubKey, Contact: &c})

	_, err = b.composer.PublishContactList(ctx)
	return err
}

// DeleteContact removes the contact and republishes the contact list.
func (b *Backend) DeleteContact(ctx context.Context, pubkey string) error {
	deleted, err := b.store.DeleteContact(ctx, pubkey)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %s is not a contact", compose.ErrInvalidInput, nostr.ShortID(pubkey))
	}
	b.sink.Notify(types.Notification{Type: types.NotificationContactDeleted, PubKey: pubkey})

	_, err = b.composer.PublishContactList(ctx)
	return err
}

// ConnectToRelay adds url to the relay table, subscribes on it and
// republishes the relay list.
func (b *Backend) ConnectToRelay(ctx context.Context, rawURL string) error {
	url := nostr.NormalizeRelayURL(rawURL)
	if url == "" {
		return fmt.Errorf("%w: invalid relay url %q", compose.ErrInvalidInput, rawURL)
	}
	if err := b.store.UpsertRelay(ctx, types.RelayInfo{URL: url, Read: true, Write: true}); err != nil {
		return err
	}
	relays, err := b.store.FetchRelays(ctx)
	if err != nil {
		return err
	}
	b.sink.Notify(types.Notification{Type: types.NotificationRelayListUpdated, Relays: relays})

	since, err := b.since(ctx)
	if err != nil {
		return err
	}
	filters, err := b.subscriptions(ctx, since)
	if err != nil {
		return err
	}
	if err := b.subscribeAll(ctx, url, filters); err != nil {
		return fmt.Errorf("%w: %v", compose.ErrNetwork, err)
	}

	_, err = b.composer.PublishRelayList(ctx)
	return err
}

// ResetUnseen clears the unseen counter of a contact.
func (b *Backend) ResetUnseen(ctx context.Context, pubkey string) error {
	if err := b.store.ResetUnseen(ctx, pubkey); err != nil {
		return err
	}
	c, err := b.store.FetchContact(ctx, pubkey)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("%w: %s is not a contact", compose.ErrInvalidInput, nostr.ShortID(pubkey))
	}
	b.sink.Notify(types.Notification{Type: types.NotificationContactUpdated, PubKey: pubkey, Contact: c})
	return nil
}

// SyncClock measures the offset against the trusted time source and
// persists it. Events signed afterwards use the new offset. Concurrent calls
// share one measurement.
func (b *Backend) SyncClock(ctx context.Context) (int64, error) {
	v, err, shared := b.syncGroup.Do("clock", func() (interface{}, error) {
		offset, err := b.clock.Sync(ctx, b.timeSource)
		if err != nil {
			return int64(0), fmt.Errorf("syncing clock: %w", err)
		}
		if err := b.store.SetClockOffset(ctx, offset); err != nil {
			return int64(0), err
		}
		b.log.Info("clock synced", "offset_ms", offset)
		b.sink.Notify(types.Notification{Type: types.NotificationClockSynced, OffsetMillis: offset})
		return offset, nil
	})
	if shared {
		b.log.Debug("singleflight: shared clock sync")
	}
	return v.(int64), err
}
