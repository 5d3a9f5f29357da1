package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"nostr-desk/internal/nostr"
	"nostr-desk/internal/pending"
	"nostr-desk/internal/store"
	"nostr-desk/internal/types"
)

func (r *Reconciler) handleMetadata(ctx context.Context, relay string, evt *types.Event) error {
	var pc *types.ProfileCache
	var profile types.ProfileInfo
	if err := json.Unmarshal([]byte(evt.Content), &profile); err != nil {
		r.log.Info("unparseable metadata stored raw", "event_id", nostr.ShortID(evt.ID), "error", err)
	} else {
		pc = &types.ProfileCache{
			PubKey:    evt.PubKey,
			Metadata:  profile,
			EventHash: evt.ID,
			UpdatedAt: evt.CreatedAt * 1000,
		}
	}

	inserted, updated, err := r.store.StoreMetadata(ctx, evt, relay, pc)
	if err != nil {
		return err
	}
	if !inserted {
		r.duplicates.Add(1)
		return nil
	}
	if pc == nil {
		return nil
	}
	if !updated {
		r.log.Debug("stale metadata", "pubkey", nostr.ShortID(evt.PubKey), "event_id", nostr.ShortID(evt.ID))
		return nil
	}
	r.notify(types.Notification{Type: types.NotificationProfileUpdated, PubKey: evt.PubKey, Profile: &profile})
	return nil
}

func (r *Reconciler) handleContactList(ctx context.Context, relay string, evt *types.Event) error {
	if evt.PubKey != r.local {
		_, err := r.insertRaw(ctx, relay, evt)
		return err
	}

	latest, err := r.store.FetchLatestOfKind(ctx, evt.Kind, r.local)
	if err != nil {
		return err
	}
	var oldID string
	if latest != nil {
		if latest.ID == evt.ID {
			r.duplicates.Add(1)
			return r.store.AddEventRelay(ctx, evt.ID, relay)
		}
		if evt.CreatedAt <= latest.CreatedAt {
			r.dropped.Add(1)
			r.log.Debug("stale contact list ignored", "event_id", nostr.ShortID(evt.ID), "created_at", evt.CreatedAt, "current", latest.CreatedAt)
			return nil
		}
		oldID = latest.ID
	}

	tags, tagErrs := nostr.ParseContactListTags(evt.Tags)
	for _, err := range tagErrs {
		r.log.Info("skipping contact list entry", "event_id", nostr.ShortID(evt.ID), "error", err)
	}
	contacts := make([]types.Contact, 0, len(tags))
	for _, t := range tags {
		if t.PubKey == r.local {
			r.log.Info("skipping contact list entry", "event_id", nostr.ShortID(evt.ID), "error", store.ErrSelfContact)
			continue
		}
		contacts = append(contacts, types.NewContact(t.PubKey, t.RelayURL, t.Petname))
	}

	created, err := r.store.ReplaceContactList(ctx, oldID, evt, relay, contacts)
	if err != nil {
		return err
	}
	for i := range created {
		c := created[i]
		r.notify(types.Notification{Type: types.NotificationContactCreated, PubKey: c.PubKey, Contact: &c})
	}
	r.notify(types.Notification{Type: types.NotificationReceivedContactList, EventID: evt.ID, Contacts: created})
	return nil
}

func (r *Reconciler) handleDirectMessage(ctx context.Context, relay string, evt *types.Event, p *pending.PendingEvent) error {
	info, err := nostr.ParseDirectMessageTags(evt.Tags)
	if err != nil {
		r.log.Info("direct message with bad tags stored raw", "event_id", nostr.ShortID(evt.ID), "error", err)
		_, err = r.insertRaw(ctx, relay, evt)
		return err
	}

	if info.Recipient == evt.PubKey {
		r.dropped.Add(1)
		r.log.Debug("self addressed direct message dropped", "event_id", nostr.ShortID(evt.ID))
		return nil
	}

	fromUser := evt.PubKey == r.local
	var peer string
	switch {
	case fromUser:
		peer = info.Recipient
	case info.Recipient == r.local:
		peer = evt.PubKey
	default:
		r.dropped.Add(1)
		r.log.Debug("direct message between third parties dropped", "event_id", nostr.ShortID(evt.ID))
		return nil
	}

	msg := types.DirectMessage{
		EventID:       evt.ID,
		ContactPubKey: peer,
		FromPubKey:    evt.PubKey,
		ToPubKey:      info.Recipient,
		IsFromUser:    fromUser,
		CreatedAt:     evt.CreatedAt * 1000,
	}

	if p != nil {
		msg.Content = p.Plaintext
		if _, err := r.store.StoreDirectMessage(ctx, store.DirectMessageWrite{Event: evt, Relay: relay, Message: &msg}); err != nil {
			return err
		}
		r.notify(types.Notification{Type: types.NotificationConfirmedDM, Relay: relay, PubKey: peer, EventID: evt.ID, Message: &msg})
		return nil
	}

	w := store.DirectMessageWrite{Event: evt, Relay: relay, Contact: peer, CountUnseen: !fromUser}
	plaintext, decryptErr := r.codec.Decrypt(peer, evt.Content)
	if decryptErr == nil {
		msg.Content = plaintext
		w.Message = &msg
	}

	res, err := r.store.StoreDirectMessage(ctx, w)
	if err != nil {
		return err
	}
	if !res.Inserted {
		r.duplicates.Add(1)
		return nil
	}
	if res.ContactCreated {
		contact := res.Contact
		r.notify(types.Notification{Type: types.NotificationContactCreated, PubKey: peer, Contact: &contact})
	}

	if decryptErr != nil {
		r.errors.Add(1)
		r.log.Warn("direct message could not be decrypted", "event_id", nostr.ShortID(evt.ID), "peer", nostr.ShortID(peer), "error", decryptErr)
		n := types.ErrorNotification(fmt.Sprintf("could not decrypt message from %s", nostr.ShortID(peer)))
		n.EventID, n.PubKey = evt.ID, peer
		r.notify(n)
		return nil
	}
	r.notify(types.Notification{Type: types.NotificationReceivedDM, Relay: relay, PubKey: peer, EventID: evt.ID, Message: &msg})
	return nil
}

func (r *Reconciler) handleChannelCreation(ctx context.Context, relay string, evt *types.Event) error {
	var meta types.ChannelMetadata
	if err := json.Unmarshal([]byte(evt.Content), &meta); err != nil {
		r.log.Info("channel created without readable metadata", "event_id", nostr.ShortID(evt.ID), "error", err)
	}

	created := evt.CreatedAt * 1000
	cc := types.ChannelCache{
		ChannelID:     evt.ID,
		CreatorPubKey: evt.PubKey,
		CreatedAt:     created,
		Metadata:      meta,
		UpdatedAt:     created,
	}

	// Metadata updates may have arrived before the channel itself.
	var update *store.ChannelUpdate
	latest, err := r.store.FetchLatestChannelMetadata(ctx, evt.ID, evt.PubKey)
	if err != nil {
		return err
	}
	if latest != nil {
		update, _ = r.channelUpdate(&cc, &latest.Event)
	}

	inserted, stored, updated, err := r.store.StoreChannel(ctx, evt, relay, cc, update)
	if err != nil {
		return err
	}
	if !inserted {
		r.duplicates.Add(1)
		return nil
	}
	r.notify(types.Notification{Type: types.NotificationChannelCacheUpdated, EventID: evt.ID, Channel: &stored})
	if updated != nil {
		r.notify(types.Notification{Type: types.NotificationChannelCacheUpdated, EventID: update.EventHash, Channel: updated})
	}
	return nil
}

func (r *Reconciler) handleChannelMetadata(ctx context.Context, relay string, evt *types.Event) error {
	info, err := nostr.ParseChannelTags(evt.Tags)
	if err != nil {
		r.log.Info("channel metadata with bad tags stored raw", "event_id", nostr.ShortID(evt.ID), "error", err)
		_, err = r.insertRaw(ctx, relay, evt)
		return err
	}

	cc, err := r.store.FetchChannelCache(ctx, info.ChannelID)
	if err != nil {
		return err
	}
	var update *store.ChannelUpdate
	foreign := false
	if cc != nil {
		update, foreign = r.channelUpdate(cc, evt)
	}

	inserted, updated, err := r.store.StoreChannelMetadata(ctx, evt, relay, update)
	if err != nil {
		return err
	}
	switch {
	case !inserted:
		r.duplicates.Add(1)
		return nil
	case cc == nil:
		r.log.Debug("metadata for unknown channel stored raw", "channel_id", nostr.ShortID(info.ChannelID), "event_id", nostr.ShortID(evt.ID))
		return nil
	case foreign:
		r.dropped.Add(1)
		r.log.Info("channel metadata from non-creator ignored", "channel_id", nostr.ShortID(cc.ChannelID), "author", nostr.ShortID(evt.PubKey))
		return nil
	case !updated:
		return nil
	}

	hash := evt.ID
	next := *cc
	next.Metadata, next.UpdatedEventHash, next.UpdatedAt = update.Metadata, &hash, update.UpdatedAt
	r.notify(types.Notification{Type: types.NotificationChannelCacheUpdated, EventID: evt.ID, Channel: &next})
	return nil
}

// channelUpdate returns the change a kind 41 event makes to cc, or nil when
// it is stale or unreadable. foreign reports an author other than the
// channel creator.
func (r *Reconciler) channelUpdate(cc *types.ChannelCache, evt *types.Event) (update *store.ChannelUpdate, foreign bool) {
	if evt.PubKey != cc.CreatorPubKey {
		return nil, true
	}

	updatedAt := evt.CreatedAt * 1000
	if updatedAt <= cc.UpdatedAt {
		return nil, false
	}

	var meta types.ChannelMetadata
	if err := json.Unmarshal([]byte(evt.Content), &meta); err != nil {
		r.log.Info("unparseable channel metadata stored raw", "event_id", nostr.ShortID(evt.ID), "error", err)
		return nil, false
	}
	return &store.ChannelUpdate{ChannelID: cc.ChannelID, Metadata: meta, EventHash: evt.ID, UpdatedAt: updatedAt}, false
}

func (r *Reconciler) handleChannelMessage(ctx context.Context, relay string, evt *types.Event, p *pending.PendingEvent) error {
	info, err := nostr.ParseChannelTags(evt.Tags)
	if err != nil {
		r.log.Info("channel message with bad tags stored raw", "event_id", nostr.ShortID(evt.ID), "error", err)
		_, err = r.insertRaw(ctx, relay, evt)
		return err
	}

	msg := types.ChannelMessage{
		EventID:    evt.ID,
		ChannelID:  info.ChannelID,
		AuthorKey:  evt.PubKey,
		IsFromUser: evt.PubKey == r.local,
		ReplyTo:    info.ReplyTo,
		Content:    evt.Content,
		CreatedAt:  evt.CreatedAt * 1000,
	}

	if p != nil {
		if p.Plaintext != "" {
			msg.Content = p.Plaintext
		}
		if _, err := r.store.StoreChannelMessage(ctx, evt, relay, msg); err != nil {
			return err
		}
		r.notify(types.Notification{Type: types.NotificationConfirmedChannelMsg, Relay: relay, EventID: evt.ID, ChannelMessage: &msg})
		return nil
	}

	inserted, err := r.store.StoreChannelMessage(ctx, evt, relay, msg)
	if err != nil {
		return err
	}
	if !inserted {
		r.duplicates.Add(1)
		return nil
	}
	r.notify(types.Notification{Type: types.NotificationReceivedChannelMsg, Relay: relay, EventID: evt.ID, ChannelMessage: &msg})
	return nil
}

func (r *Reconciler) handleRelayList(ctx context.Context, relay string, evt *types.Event) error {
	if evt.PubKey != r.local {
		_, err := r.insertRaw(ctx, relay, evt)
		return err
	}

	latest, err := r.store.FetchLatestOfKind(ctx, evt.Kind, r.local)
	if err != nil {
		return err
	}
	if latest != nil && (latest.ID == evt.ID || evt.CreatedAt <= latest.CreatedAt) {
		_, err := r.insertRaw(ctx, relay, evt)
		return err
	}

	entries := nostr.ParseRelayListTags(evt.Tags)
	relays := make([]types.RelayInfo, 0, len(entries))
	for _, entry := range entries {
		relays = append(relays, types.RelayInfo{URL: entry.URL, Read: entry.Read, Write: entry.Write})
	}
	inserted, err := r.store.StoreRelayList(ctx, evt, relay, relays)
	if err != nil {
		return err
	}
	if !inserted {
		r.duplicates.Add(1)
		return nil
	}

	stored, err := r.store.FetchRelays(ctx)
	if err != nil {
		return err
	}
	r.notify(types.Notification{Type: types.NotificationRelayListUpdated, EventID: evt.ID, Relays: stored})
	return nil
}
