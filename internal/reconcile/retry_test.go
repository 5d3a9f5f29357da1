package reconcile

import (
	"context"
	"errors"
	"testing"

	"nostr-desk/internal/nostr"
	"nostr-desk/internal/pending"
	"nostr-desk/internal/store"
	"nostr-desk/internal/types"
)

// flakyStore fails the next write of each armed kind, leaving the database
// untouched the way a rolled back transaction does.
type flakyStore struct {
	Store
	armed map[string]bool
}

func (s *flakyStore) trip(op string) error {
	if !s.armed[op] {
		return nil
	}
	delete(s.armed, op)
	return &store.Error{Op: op, Err: errors.New("disk I/O error")}
}

func (s *flakyStore) StoreMetadata(ctx context.Context, evt *types.Event, relayURL string, pc *types.ProfileCache) (bool, bool, error) {
	if err := s.trip("metadata"); err != nil {
		return false, false, err
	}
	return s.Store.StoreMetadata(ctx, evt, relayURL, pc)
}

func (s *flakyStore) StoreDirectMessage(ctx context.Context, w store.DirectMessageWrite) (store.DirectMessageResult, error) {
	if err := s.trip("dm"); err != nil {
		return store.DirectMessageResult{}, err
	}
	return s.Store.StoreDirectMessage(ctx, w)
}

func (s *flakyStore) StoreChannelMessage(ctx context.Context, evt *types.Event, relayURL string, m types.ChannelMessage) (bool, error) {
	if err := s.trip("channel message"); err != nil {
		return false, err
	}
	return s.Store.StoreChannelMessage(ctx, evt, relayURL, m)
}

func newFlakyFixture(t *testing.T, ops ...string) *fixture {
	t.Helper()
	armed := make(map[string]bool, len(ops))
	for _, op := range ops {
		armed[op] = true
	}
	return newFixtureWith(t, func(s Store) Store { return &flakyStore{Store: s, armed: armed} })
}

func TestPendingDirectMessageSurvivesStorageFailure(t *testing.T) {
	f := newFlakyFixture(t, "dm")
	evt := f.dm(f.local, f.alice, 100, "keep me")
	f.ledger.Add(evt, []string{relayA, relayB}, pending.Payload{Plaintext: "keep me", ChatPubKey: f.alice.PublicKey()})

	f.deliver(relayA, evt)
	f.expectTypes(types.NotificationError)
	if _, ok := f.ledger.Get(evt.ID); !ok {
		t.Fatal("pending entry removed although nothing was stored")
	}
	if f.stored(evt.ID) {
		t.Fatal("event stored by a failed write")
	}

	f.sink.Reset()
	f.deliver(relayB, evt)
	f.expectTypes(types.NotificationConfirmedDM)
	if m := f.sink.Items[0].Message; m.Content != "keep me" {
		t.Errorf("confirmed message = %+v", m)
	}
	if f.ledger.Len() != 0 {
		t.Error("pending entry not confirmed by the second echo")
	}
	msgs, _ := f.store.FetchMessages(f.ctx, f.alice.PublicKey())
	if len(msgs) != 1 || msgs[0].Content != "keep me" {
		t.Errorf("FetchMessages() = %+v", msgs)
	}
}

func TestOKConfirmationRetriedAfterStorageFailure(t *testing.T) {
	f := newFlakyFixture(t, "dm")
	evt := f.dm(f.local, f.alice, 100, "via ok")
	f.ledger.Add(evt, []string{relayA, relayB}, pending.Payload{Plaintext: "via ok", ChatPubKey: f.alice.PublicKey()})

	f.rec.Handle(f.ctx, types.OKMessage{Relay: relayA, EventID: evt.ID, Accepted: true})
	if _, ok := f.ledger.Get(evt.ID); !ok {
		t.Fatal("pending entry removed after failed OK handling")
	}

	f.sink.Reset()
	f.rec.Handle(f.ctx, types.OKMessage{Relay: relayB, EventID: evt.ID, Accepted: true})
	f.expectTypes(types.NotificationConfirmedDM)
	if !f.stored(evt.ID) {
		t.Error("event not stored on retry")
	}
}

func TestInboundDirectMessageRedeliveredAfterStorageFailure(t *testing.T) {
	f := newFlakyFixture(t, "dm")
	evt := f.dm(f.alice, f.local, 100, "second time lucky")

	f.deliver(relayA, evt)
	f.expectTypes(types.NotificationError)

	f.sink.Reset()
	f.deliver(relayB, evt)
	f.expectTypes(types.NotificationContactCreated, types.NotificationReceivedDM)

	msgs, _ := f.store.FetchMessages(f.ctx, f.alice.PublicKey())
	if len(msgs) != 1 || msgs[0].Content != "second time lucky" {
		t.Errorf("FetchMessages() = %+v", msgs)
	}
	c, _ := f.store.FetchContact(f.ctx, f.alice.PublicKey())
	if c == nil || c.UnseenMessages != 1 {
		t.Errorf("contact = %+v", c)
	}
	if s := f.rec.Stats(); s.Errors != 1 || s.Duplicates != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestMetadataRedeliveredAfterStorageFailure(t *testing.T) {
	f := newFlakyFixture(t, "metadata")
	evt := f.event(f.alice, 100, nostr.KindNumMetadata, nil, `{"name":"alice"}`)

	f.deliver(relayA, evt)
	f.expectTypes(types.NotificationError)

	f.sink.Reset()
	f.deliver(relayB, evt)
	f.expectTypes(types.NotificationProfileUpdated)
	pc, _ := f.store.FetchProfileCache(f.ctx, f.alice.PublicKey())
	if pc == nil || pc.Metadata.Name != "alice" {
		t.Errorf("profile cache = %+v", pc)
	}
}

func TestChannelMessageRedeliveredAfterStorageFailure(t *testing.T) {
	f := newFlakyFixture(t, "channel message")
	channel := f.createChannel(100, "general")
	f.sink.Reset()

	msg := f.event(f.bob, 150, nostr.KindNumChannelMsg, [][]string{{"e", channel.ID, relayA, "root"}}, "hi all")
	f.deliver(relayA, msg)
	f.expectTypes(types.NotificationError)

	f.sink.Reset()
	f.deliver(relayB, msg)
	f.expectTypes(types.NotificationReceivedChannelMsg)
	if msgs, _ := f.store.FetchChannelMessages(f.ctx, channel.ID); len(msgs) != 1 {
		t.Errorf("FetchChannelMessages() = %+v", msgs)
	}
}
