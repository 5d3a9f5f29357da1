package reconcile

import (
	"testing"

	"nostr-desk/internal/nostr"
	"nostr-desk/internal/types"
)

func TestContactListFirstArrival(t *testing.T) {
	f := newFixture(t)
	evt := f.event(f.local, 100, nostr.KindNumContactList, [][]string{
		{"p", f.alice.PublicKey(), "wss://alice.example", "al"},
		{"p", f.bob.PublicKey()},
	}, "")

	f.deliver(relayA, evt)

	f.expectTypes(types.NotificationContactCreated, types.NotificationContactCreated, types.NotificationReceivedContactList)
	last := f.sink.Items[2]
	if len(last.Contacts) != 2 {
		t.Fatalf("ReceivedContactList contacts = %+v", last.Contacts)
	}
	alice := last.Contacts[0]
	if alice.PubKey != f.alice.PublicKey() || alice.Petname == nil || *alice.Petname != "al" ||
		alice.RelayURL == nil || *alice.RelayURL != "wss://alice.example" {
		t.Errorf("alice = %+v", alice)
	}
	if bob := last.Contacts[1]; bob.Petname != nil || bob.RelayURL != nil {
		t.Errorf("bob optional fields should be absent: %+v", bob)
	}
}

func TestContactListSameIDIsAcknowledgement(t *testing.T) {
	f := newFixture(t)
	evt := f.event(f.local, 100, nostr.KindNumContactList, [][]string{{"p", f.alice.PublicKey()}}, "")

	f.deliver(relayA, evt)
	f.sink.Reset()
	f.deliver(relayB, evt)

	f.expectTypes()
	relays, _ := f.store.EventRelays(f.ctx, evt.ID)
	if len(relays) != 2 {
		t.Errorf("EventRelays() = %v", relays)
	}
}

func TestContactListOlderOrEqualIgnored(t *testing.T) {
	f := newFixture(t)
	current := f.event(f.local, 200, nostr.KindNumContactList, [][]string{{"p", f.alice.PublicKey()}}, "")
	f.deliver(relayA, current)
	f.sink.Reset()

	older := f.event(f.local, 100, nostr.KindNumContactList, [][]string{{"p", f.bob.PublicKey()}}, "")
	tie := f.event(f.local, 200, nostr.KindNumContactList, [][]string{{"p", f.bob.PublicKey()}}, "tie")
	f.deliver(relayA, older)
	f.deliver(relayA, tie)

	f.expectTypes()
	if f.stored(older.ID) || f.stored(tie.ID) {
		t.Error("stale contact list was stored")
	}
	contacts, _ := f.store.FetchContacts(f.ctx)
	if len(contacts) != 1 || contacts[0].PubKey != f.alice.PublicKey() {
		t.Errorf("contacts = %+v", contacts)
	}
}

func TestContactListNewerReplaces(t *testing.T) {
	f := newFixture(t)
	first := f.event(f.local, 100, nostr.KindNumContactList, [][]string{{"p", f.alice.PublicKey()}}, "")
	f.deliver(relayA, first)
	f.sink.Reset()

	second := f.event(f.local, 200, nostr.KindNumContactList, [][]string{{"p", f.bob.PublicKey()}}, "")
	f.deliver(relayA, second)

	f.expectTypes(types.NotificationContactCreated, types.NotificationReceivedContactList)
	contacts, _ := f.store.FetchContacts(f.ctx)
	if len(contacts) != 1 || contacts[0].PubKey != f.bob.PublicKey() {
		t.Errorf("contacts = %+v", contacts)
	}
	if f.stored(first.ID) {
		t.Error("replaced contact list event still stored")
	}
	latest, _ := f.store.FetchLatestOfKind(f.ctx, nostr.KindNumContactList, f.local.PublicKey())
	if latest == nil || latest.ID != second.ID {
		t.Errorf("latest contact list = %+v", latest)
	}
}

func TestContactListSkipsSelfAndMalformed(t *testing.T) {
	f := newFixture(t)
	evt := f.event(f.local, 100, nostr.KindNumContactList, [][]string{
		{"p", f.local.PublicKey()},
		{"p", "not-a-key"},
		{"p", f.alice.PublicKey()},
	}, "")

	f.deliver(relayA, evt)

	f.expectTypes(types.NotificationContactCreated, types.NotificationReceivedContactList)
	if f.sink.Items[0].PubKey != f.alice.PublicKey() {
		t.Errorf("created = %+v", f.sink.Items[0])
	}
}

func TestForeignContactListStoredRaw(t *testing.T) {
	f := newFixture(t)
	evt := f.event(f.alice, 100, nostr.KindNumContactList, [][]string{{"p", f.bob.PublicKey()}}, "")

	f.deliver(relayA, evt)

	f.expectTypes()
	if !f.stored(evt.ID) {
		t.Error("foreign contact list not stored")
	}
	if contacts, _ := f.store.FetchContacts(f.ctx); len(contacts) != 0 {
		t.Errorf("foreign contact list changed contacts: %+v", contacts)
	}
}

func TestRelayListUpdatesRelayTable(t *testing.T) {
	f := newFixture(t)
	evt := f.event(f.local, 100, nostr.KindNumRelayList, [][]string{
		{"r", "wss://both.example"},
		{"r", "wss://read.example", "read"},
	}, "")

	f.deliver(relayA, evt)

	f.expectTypes(types.NotificationRelayListUpdated)
	relays := f.sink.Items[0].Relays
	if len(relays) != 2 || relays[1].URL != "wss://read.example" || relays[1].Write {
		t.Errorf("relays = %+v", relays)
	}

	f.sink.Reset()
	f.deliver(relayA, f.event(f.local, 50, nostr.KindNumRelayList, [][]string{{"r", "wss://old.example"}}, ""))
	f.expectTypes()
	f.deliver(relayA, f.event(f.alice, 500, nostr.KindNumRelayList, [][]string{{"r", "wss://alice.example"}}, ""))
	f.expectTypes()
}
