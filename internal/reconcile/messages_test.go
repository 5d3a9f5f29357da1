package reconcile

import (
	"testing"

	"nostr-desk/internal/nostr"
	"nostr-desk/internal/pending"
	"nostr-desk/internal/types"
)

func TestInboundDirectMessage(t *testing.T) {
	f := newFixture(t)
	evt := f.dm(f.alice, f.local, 100, "hello there")

	f.deliver(relayA, evt)

	f.expectTypes(types.NotificationContactCreated, types.NotificationReceivedDM)
	got := f.sink.Items[1]
	if got.Message == nil || got.Message.Content != "hello there" || got.Message.IsFromUser || got.PubKey != f.alice.PublicKey() {
		t.Errorf("ReceivedDM = %+v", got)
	}

	c, _ := f.store.FetchContact(f.ctx, f.alice.PublicKey())
	if c == nil || c.UnseenMessages != 1 {
		t.Errorf("contact = %+v", c)
	}

	f.sink.Reset()
	f.deliver(relayB, evt)
	f.expectTypes()
	msgs, _ := f.store.FetchMessages(f.ctx, f.alice.PublicKey())
	if len(msgs) != 1 {
		t.Errorf("FetchMessages() = %+v", msgs)
	}
	c, _ = f.store.FetchContact(f.ctx, f.alice.PublicKey())
	if c.UnseenMessages != 1 {
		t.Errorf("duplicate bumped unseen to %d", c.UnseenMessages)
	}
}

func TestOutboundFromOtherDevice(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.store.InsertContactIfAbsent(f.ctx, f.alice.PublicKey()); err != nil {
		t.Fatal(err)
	}
	evt := f.dm(f.local, f.alice, 100, "sent elsewhere")

	f.deliver(relayA, evt)

	f.expectTypes(types.NotificationReceivedDM)
	if m := f.sink.Items[0].Message; !m.IsFromUser || m.Content != "sent elsewhere" || m.ContactPubKey != f.alice.PublicKey() {
		t.Errorf("message = %+v", m)
	}
	c, _ := f.store.FetchContact(f.ctx, f.alice.PublicKey())
	if c.UnseenMessages != 0 {
		t.Errorf("own message bumped unseen to %d", c.UnseenMessages)
	}
}

func TestSelfAddressedDirectMessageDropped(t *testing.T) {
	f := newFixture(t)
	evt := f.dm(f.local, f.local, 100, "note to self")

	f.deliver(relayA, evt)

	f.expectTypes()
	if f.stored(evt.ID) {
		t.Error("self addressed DM was stored")
	}
	if f.rec.Stats().Dropped != 1 {
		t.Errorf("Stats() = %+v", f.rec.Stats())
	}
}

func TestThirdPartyDirectMessageDropped(t *testing.T) {
	f := newFixture(t)
	evt := f.dm(f.alice, f.bob, 100, "not for us")

	f.deliver(relayA, evt)

	f.expectTypes()
	if f.stored(evt.ID) {
		t.Error("third party DM was stored")
	}
}

func TestDirectMessageBadTagsStoredRaw(t *testing.T) {
	f := newFixture(t)
	evt := f.event(f.alice, 100, nostr.KindNumEncryptedDM, [][]string{{"p", "zz"}}, "x?iv=y")

	f.deliver(relayA, evt)

	f.expectTypes()
	if !f.stored(evt.ID) {
		t.Error("DM with malformed tags not stored raw")
	}
}

func TestDirectMessageDecryptionFailure(t *testing.T) {
	f := newFixture(t)
	evt := f.event(f.alice, 100, nostr.KindNumEncryptedDM, [][]string{{"p", f.local.PublicKey()}}, "garbage?iv=alsogarbage")

	f.deliver(relayA, evt)

	f.expectTypes(types.NotificationContactCreated, types.NotificationError)
	if f.sink.Items[1].EventID != evt.ID {
		t.Errorf("error notification = %+v", f.sink.Items[1])
	}
	if !f.stored(evt.ID) {
		t.Error("undecryptable DM not stored raw")
	}
	if msgs, _ := f.store.FetchMessages(f.ctx, f.alice.PublicKey()); len(msgs) != 0 {
		t.Errorf("undecryptable DM produced a message row: %+v", msgs)
	}
}

func TestPendingDirectMessageSelfEcho(t *testing.T) {
	f := newFixture(t)
	evt := f.dm(f.local, f.alice, 100, "optimistic")
	f.ledger.Add(evt, []string{relayA}, pending.Payload{Plaintext: "optimistic", ChatPubKey: f.alice.PublicKey()})

	f.deliver(relayA, evt)

	f.expectTypes(types.NotificationConfirmedDM)
	if m := f.sink.Items[0].Message; m.Content != "optimistic" || !m.IsFromUser {
		t.Errorf("confirmed message = %+v", m)
	}
	if f.ledger.Len() != 0 {
		t.Error("pending entry not removed")
	}

	// The echo from a second relay is only an acknowledgement.
	f.sink.Reset()
	f.deliver(relayB, evt)
	f.expectTypes()
}

func TestOKAcceptedConfirmsPending(t *testing.T) {
	f := newFixture(t)
	evt := f.dm(f.local, f.alice, 100, "via ok")
	f.ledger.Add(evt, []string{relayA}, pending.Payload{Plaintext: "via ok", ChatPubKey: f.alice.PublicKey()})

	f.rec.Handle(f.ctx, types.OKMessage{Relay: relayA, EventID: evt.ID, Accepted: true})

	f.expectTypes(types.NotificationConfirmedDM)
	if !f.stored(evt.ID) {
		t.Error("OK-confirmed event not stored")
	}

	f.sink.Reset()
	f.deliver(relayA, evt)
	f.rec.Handle(f.ctx, types.OKMessage{Relay: relayB, EventID: evt.ID, Accepted: true})
	f.expectTypes()
	relays, _ := f.store.EventRelays(f.ctx, evt.ID)
	if len(relays) != 2 {
		t.Errorf("EventRelays() = %v", relays)
	}
}

func TestOKRejectedKeepsPending(t *testing.T) {
	f := newFixture(t)
	evt := f.dm(f.local, f.alice, 100, "rejected")
	f.ledger.Add(evt, []string{relayA}, pending.Payload{Plaintext: "rejected", ChatPubKey: f.alice.PublicKey()})

	f.rec.Handle(f.ctx, types.OKMessage{Relay: relayA, EventID: evt.ID, Accepted: false, Message: "blocked: spam"})

	f.expectTypes(types.NotificationError)
	if _, ok := f.ledger.Get(evt.ID); !ok {
		t.Error("rejected event left the ledger")
	}
	if f.stored(evt.ID) {
		t.Error("rejected event was stored")
	}
}

func TestPendingMetadataConfirmsPublish(t *testing.T) {
	f := newFixture(t)
	evt := f.event(f.local, 100, nostr.KindNumMetadata, nil, `{"name":"me"}`)
	f.ledger.Add(evt, []string{relayA}, pending.Payload{})

	f.deliver(relayA, evt)

	f.expectTypes(types.NotificationProfileUpdated, types.NotificationConfirmedPublish)
}
