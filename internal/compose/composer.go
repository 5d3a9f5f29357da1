// Package compose builds, signs and publishes outbound events.
package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"nostr-desk/internal/identity"
	"nostr-desk/internal/nostr"
	"nostr-desk/internal/pending"
	"nostr-desk/internal/types"
)

var (
	// ErrNetwork marks publish failures. The event stays pending.
	ErrNetwork = errors.New("network error")
	// ErrInvalidInput marks requests that cannot produce a valid event.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoRelays means there is nowhere to publish.
	ErrNoRelays = errors.New("no write relays configured")
)

// PublishError is returned when a signed event could not be handed to the
// network.
type PublishError struct {
	EventID string
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publishing %s: %v", nostr.ShortID(e.EventID), e.Err)
}

func (e *PublishError) Unwrap() []error { return []error{ErrNetwork, e.Err} }

// Network delivers events to relays.
type Network interface {
	Publish(ctx context.Context, evt types.Event, relays []string) error
}

// Encrypter seals DM payloads for peer.
type Encrypter interface {
	Encrypt(peer, plaintext string) (string, error)
}

// Clock yields the corrected created_at.
type Clock interface {
	Unix() int64
}

// Store is the read side the composer needs.
type Store interface {
	FetchContacts(ctx context.Context) ([]types.Contact, error)
	FetchRelays(ctx context.Context) ([]types.RelayInfo, error)
	FetchChannelCache(ctx context.Context, channelID string) (*types.ChannelCache, error)
}

// Config holds the collaborators of a Composer.
type Config struct {
	Keys          *identity.Keys
	Codec         Encrypter
	Ledger        *pending.Ledger
	Store         Store
	Network       Network
	Clock         Clock
	Sink          types.Sink
	Logger        *slog.Logger
	DefaultRelays []string // used when the relay table has no write relay
}

// Composer turns user intents into signed events. Every event is registered
// in the ledger before it is handed to the network, so an echo can never
// arrive for an unknown event.
type Composer struct {
	keys          *identity.Keys
	codec         Encrypter
	ledger        *pending.Ledger
	store         Store
	network       Network
	clock         Clock
	sink          types.Sink
	log           *slog.Logger
	defaultRelays []string
}

// New creates a Composer.
func New(cfg Config) *Composer {
	c := &Composer{
		keys:          cfg.Keys,
		codec:         cfg.Codec,
		ledger:        cfg.Ledger,
		store:         cfg.Store,
		network:       cfg.Network,
		clock:         cfg.Clock,
		sink:          cfg.Sink,
		log:           cfg.Logger,
		defaultRelays: cfg.DefaultRelays,
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// SendDM encrypts text for peer and publishes it as a kind 4 event.
func (c *Composer) SendDM(ctx context.Context, peer, text string) (*pending.PendingEvent, error) {
	if !nostr.IsHexKey(peer) {
		return nil, fmt.Errorf("%w: recipient is not a hex pubkey", ErrInvalidInput)
	}
	if peer == c.keys.PublicKey() {
		return nil, fmt.Errorf("%w: cannot send a direct message to yourself", ErrInvalidInput)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidInput)
	}

	ciphertext, err := c.codec.Encrypt(peer, text)
	if err != nil {
		return nil, fmt.Errorf("encrypting message: %w", err)
	}

	evt, err := c.sign(nostr.KindNumEncryptedDM, [][]string{{"p", peer}}, ciphertext)
	if err != nil {
		return nil, err
	}
	return c.publish(ctx, evt, pending.Payload{Plaintext: text, ChatPubKey: peer}, func(evt types.Event) {
		c.notify(types.Notification{
			Type:    types.NotificationPendingDM,
			PubKey:  peer,
			EventID: evt.ID,
			Message: &types.DirectMessage{
				EventID:       evt.ID,
				ContactPubKey: peer,
				FromPubKey:    evt.PubKey,
				ToPubKey:      peer,
				IsFromUser:    true,
				Content:       text,
				CreatedAt:     evt.CreatedAt * 1000,
			},
		})
	})
}

// UpdateProfile publishes new kind 0 metadata.
func (c *Composer) UpdateProfile(ctx context.Context, profile types.ProfileInfo) (*pending.PendingEvent, error) {
	content, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("encoding profile: %w", err)
	}
	evt, err := c.sign(nostr.KindNumMetadata, nil, string(content))
	if err != nil {
		return nil, err
	}
	return c.publish(ctx, evt, pending.Payload{}, nil)
}

// PublishContactList publishes the stored contacts as a kind 3 event.
func (c *Composer) PublishContactList(ctx context.Context) (*pending.PendingEvent, error) {
	contacts, err := c.store.FetchContacts(ctx)
	if err != nil {
		return nil, err
	}

	tags := make([][]string, 0, len(contacts))
	for _, ct := range contacts {
		tags = append(tags, contactTag(ct))
	}
	evt, err := c.sign(nostr.KindNumContactList, tags, "")
	if err != nil {
		return nil, err
	}
	return c.publish(ctx, evt, pending.Payload{}, nil)
}

// contactTag renders ["p", pubkey, relay, petname], dropping empty trailing
// fields.
func contactTag(ct types.Contact) []string {
	tag := []string{"p", ct.PubKey}
	relay, petname := "", ""
	if ct.RelayURL != nil {
		relay = *ct.RelayURL
	}
	if ct.Petname != nil {
		petname = *ct.Petname
	}
	switch {
	case petname != "":
		tag = append(tag, relay, petname)
	case relay != "":
		tag = append(tag, relay)
	}
	return tag
}

// PublishRelayList publishes the relay table as a NIP-65 relay list.
func (c *Composer) PublishRelayList(ctx context.Context) (*pending.PendingEvent, error) {
	relays, err := c.store.FetchRelays(ctx)
	if err != nil {
		return nil, err
	}

	tags := make([][]string, 0, len(relays))
	for _, r := range relays {
		switch {
		case r.Read && r.Write:
			tags = append(tags, []string{"r", r.URL})
		case r.Read:
			tags = append(tags, []string{"r", r.URL, "read"})
		case r.Write:
			tags = append(tags, []string{"r", r.URL, "write"})
		}
	}
	evt, err := c.sign(nostr.KindNumRelayList, tags, "")
	if err != nil {
		return nil, err
	}
	return c.publish(ctx, evt, pending.Payload{}, nil)
}

// CreateChannel publishes a kind 40 event. The channel id is the event id.
func (c *Composer) CreateChannel(ctx context.Context, meta types.ChannelMetadata) (*pending.PendingEvent, error) {
	if meta.Name == "" {
		return nil, fmt.Errorf("%w: channel name is required", ErrInvalidInput)
	}
	content, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding channel metadata: %w", err)
	}
	evt, err := c.sign(nostr.KindNumChannelCreate, nil, string(content))
	if err != nil {
		return nil, err
	}
	return c.publish(ctx, evt, pending.Payload{ChannelID: evt.ID}, nil)
}

// UpdateChannel publishes kind 41 metadata for a channel the local user
// created.
func (c *Composer) UpdateChannel(ctx context.Context, channelID string, meta types.ChannelMetadata) (*pending.PendingEvent, error) {
	cc, err := c.store.FetchChannelCache(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if cc == nil {
		return nil, fmt.Errorf("%w: unknown channel %s", ErrInvalidInput, nostr.ShortID(channelID))
	}
	if cc.CreatorPubKey != c.keys.PublicKey() {
		return nil, fmt.Errorf("%w: only the channel creator can update it", ErrInvalidInput)
	}

	content, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding channel metadata: %w", err)
	}
	targets, err := c.targets(ctx)
	if err != nil {
		return nil, err
	}
	tags := [][]string{{"e", channelID, targets[0], "root"}}
	evt, err := c.sign(nostr.KindNumChannelMeta, tags, string(content))
	if err != nil {
		return nil, err
	}
	return c.publishTo(ctx, targets, evt, pending.Payload{ChannelID: channelID}, nil)
}

// SendChannelMessage posts text to a channel, optionally replying to
// another message.
func (c *Composer) SendChannelMessage(ctx context.Context, channelID, text, replyTo string) (*pending.PendingEvent, error) {
	if !nostr.IsHexKey(channelID) {
		return nil, fmt.Errorf("%w: channel id is not hex", ErrInvalidInput)
	}
	if replyTo != "" && !nostr.IsHexKey(replyTo) {
		return nil, fmt.Errorf("%w: reply id is not hex", ErrInvalidInput)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidInput)
	}

	targets, err := c.targets(ctx)
	if err != nil {
		return nil, err
	}
	tags := [][]string{{"e", channelID, targets[0], "root"}}
	if replyTo != "" {
		tags = append(tags, []string{"e", replyTo, targets[0], "reply"})
	}
	evt, err := c.sign(nostr.KindNumChannelMsg, tags, text)
	if err != nil {
		return nil, err
	}

	payload := pending.Payload{Plaintext: text, ChannelID: channelID, ReplyTo: replyTo}
	return c.publishTo(ctx, targets, evt, payload, func(evt types.Event) {
		c.notify(types.Notification{
			Type:    types.NotificationPendingChannelMsg,
			EventID: evt.ID,
			ChannelMessage: &types.ChannelMessage{
				EventID:    evt.ID,
				ChannelID:  channelID,
				AuthorKey:  evt.PubKey,
				IsFromUser: true,
				ReplyTo:    replyTo,
				Content:    text,
				CreatedAt:  evt.CreatedAt * 1000,
			},
		})
	})
}

// Resend publishes a pending event again, for example after a relay came
// back. It is never called automatically.
func (c *Composer) Resend(ctx context.Context, id string) error {
	p, ok := c.ledger.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s is not pending", ErrInvalidInput, nostr.ShortID(id))
	}
	if err := c.network.Publish(ctx, p.Event, p.Targets); err != nil {
		return &PublishError{EventID: id, Err: err}
	}
	return nil
}

// sign builds an event stamped with the corrected clock.
func (c *Composer) sign(kind int, tags [][]string, content string) (types.Event, error) {
	if tags == nil {
		tags = [][]string{}
	}
	evt := types.Event{
		CreatedAt: c.clock.Unix(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	if err := nostr.Sign(&evt, c.keys.PrivateKey()); err != nil {
		return types.Event{}, fmt.Errorf("signing event: %w", err)
	}
	return evt, nil
}

// targets returns the write relays, falling back to the configured defaults.
func (c *Composer) targets(ctx context.Context) ([]string, error) {
	relays, err := c.store.FetchRelays(ctx)
	if err != nil {
		return nil, err
	}
	var urls []string
	for _, r := range relays {
		if r.Write {
			urls = append(urls, r.URL)
		}
	}
	if len(urls) == 0 {
		urls = append(urls, c.defaultRelays...)
	}
	if len(urls) == 0 {
		return nil, ErrNoRelays
	}
	return urls, nil
}

// publish reads the write relays and publishes evt to them.
func (c *Composer) publish(ctx context.Context, evt types.Event, payload pending.Payload, announce func(types.Event)) (*pending.PendingEvent, error) {
	targets, err := c.targets(ctx)
	if err != nil {
		return nil, err
	}
	return c.publishTo(ctx, targets, evt, payload, announce)
}

// publishTo registers evt in the ledger, runs announce, then hands evt to
// the network. On failure the event stays pending.
func (c *Composer) publishTo(ctx context.Context, targets []string, evt types.Event, payload pending.Payload, announce func(types.Event)) (*pending.PendingEvent, error) {
	p := c.ledger.Add(evt, targets, payload)
	if announce != nil {
		announce(evt)
	}

	c.log.Debug("publishing event", "event_id", nostr.ShortID(evt.ID), "kind", evt.Kind, "relays", len(targets))
	if err := c.network.Publish(ctx, evt, targets); err != nil {
		c.log.Warn("publish failed", "event_id", nostr.ShortID(evt.ID), "error", err)
		return p, &PublishError{EventID: evt.ID, Err: err}
	}
	return p, nil
}

func (c *Composer) notify(n types.Notification) {
	if c.sink != nil {
		c.sink.Notify(n)
	}
}
