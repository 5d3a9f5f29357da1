package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"nostr-desk/internal/compose"
	"nostr-desk/internal/config"
	"nostr-desk/internal/store"
	"nostr-desk/internal/testutil"
	"nostr-desk/internal/types"
)

// fakeNetwork records traffic. With ack set, every published event is
// answered by an accepted OK on the inbound channel.
type fakeNetwork struct {
	out chan<- types.RelayMessage
	ack bool

	mu        sync.Mutex
	connected []string
	filters   map[string][]types.Filter
	published []types.Event
	failWith  error
	closed    bool
}

func (n *fakeNetwork) Connect(ctx context.Context, url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failWith != nil {
		return n.failWith
	}
	n.connected = append(n.connected, url)
	return nil
}

func (n *fakeNetwork) Subscribe(ctx context.Context, url, subID string, filter types.Filter) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.filters == nil {
		n.filters = make(map[string][]types.Filter)
	}
	n.filters[url] = append(n.filters[url], filter)
	return "sub", nil
}

func (n *fakeNetwork) Publish(ctx context.Context, evt types.Event, relays []string) error {
	n.mu.Lock()
	if n.failWith != nil {
		n.mu.Unlock()
		return n.failWith
	}
	n.published = append(n.published, evt)
	n.mu.Unlock()

	if n.ack {
		n.out <- types.OKMessage{Relay: relays[0], EventID: evt.ID, Accepted: true}
	}
	return nil
}

func (n *fakeNetwork) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

func (n *fakeNetwork) lastPublished(t *testing.T) types.Event {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.published) == 0 {
		t.Fatal("nothing was published")
	}
	return n.published[len(n.published)-1]
}

type fixture struct {
	backend *Backend
	store   *store.Store
	net     *fakeNetwork
	notes   types.ChanSink
	time    *testutil.StubTimeSource
}

func newFixture(t *testing.T, ack bool) *fixture {
	t.Helper()

	cfg := config.NewConfig(t.TempDir())
	cfg.Relays = []string{"wss://relay.one.example", "wss://relay.two.example"}
	cfg.Clock.SyncOnRun = false

	f := &fixture{
		store: testutil.NewTestStore(t, ""),
		net:   &fakeNetwork{ack: ack},
		notes: make(types.ChanSink, 256),
		time:  &testutil.StubTimeSource{OffsetValue: 2500 * time.Millisecond},
	}
	b, err := New(context.Background(), Options{
		Config: cfg,
		Keys:   testutil.NewKeys(t, 1),
		Store:  f.store,
		NewNetwork: func(out chan<- types.RelayMessage) Network {
			f.net.out = out
			return f.net
		},
		Clock:      testutil.FixedClock(),
		TimeSource: f.time,
		Sink:       f.notes,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	f.backend = b
	return f
}

// await returns the first notification of type nt, failing after a timeout.
func (f *fixture) await(t *testing.T, nt types.NotificationType) types.Notification {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case n := <-f.notes:
			if n.Type == nt {
				return n
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", nt)
		}
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(context.Background(), Options{}); err == nil {
		t.Error("New() without config succeeded")
	}
}

func TestNewRestoresClockOffset(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	if err := f.store.SetClockOffset(ctx, 1000); err != nil {
		t.Fatal(err)
	}

	b, err := New(ctx, Options{
		Config:     f.backend.cfg,
		Keys:       testutil.NewKeys(t, 1),
		Store:      f.store,
		NewNetwork: func(out chan<- types.RelayMessage) Network { f.net.out = out; return f.net },
		Clock:      testutil.FixedClock(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := b.HandleIntent(ctx, &types.IntentSendDM{To: testutil.NewKeys(t, 2).PublicKey(), Text: "hi"}); err != nil {
		t.Fatalf("SendDM error = %v", err)
	}
	if got := f.net.lastPublished(t).CreatedAt; got != 1_700_000_001 {
		t.Errorf("created_at = %d, want 1700000001", got)
	}
}

func TestStartSeedsRelaysAndSubscribes(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	if err := f.backend.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := f.backend.Start(ctx); err == nil {
		t.Error("second Start() succeeded")
	}

	relays, err := f.store.FetchRelays(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(relays) != 2 || !relays[0].Write || !relays[0].Read {
		t.Fatalf("relay table = %+v", relays)
	}

	f.net.mu.Lock()
	defer f.net.mu.Unlock()
	if len(f.net.connected) != 2 {
		t.Errorf("connected = %v", f.net.connected)
	}
	filters := f.net.filters["wss://relay.one.example"]
	if len(filters) != 3 {
		t.Fatalf("got %d filters, want 3 (own events and DMs both ways)", len(filters))
	}
	if filters[0].Since != nil {
		t.Error("empty store should subscribe without since")
	}
}

func TestStartIgnoresFutureDatedEvents(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	stranger := testutil.NewKeys(t, 7)

	recent := testutil.SignedEvent(t, stranger, 1_700_000_100, 1, nil, "recent")
	future := testutil.SignedEvent(t, stranger, 9_999_999_999, 1, nil, "from the future")
	for _, evt := range []types.Event{recent, future} {
		if _, _, err := f.store.InsertEvent(ctx, &evt, "wss://relay.one.example"); err != nil {
			t.Fatal(err)
		}
	}

	if err := f.backend.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	f.net.mu.Lock()
	defer f.net.mu.Unlock()
	filters := f.net.filters["wss://relay.one.example"]
	if len(filters) != 3 {
		t.Fatalf("got %d filters, want 3", len(filters))
	}
	for i, filter := range filters {
		if filter.Since == nil || *filter.Since != 1_700_000_100 {
			t.Errorf("filter %d since = %v, want 1700000100", i, filter.Since)
		}
	}
}

func TestSubscriptionsCoverContactsAndChannels(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	alice := testutil.NewKeys(t, 2).PublicKey()

	if _, _, err := f.store.UpsertContact(ctx, types.NewContact(alice, "", "")); err != nil {
		t.Fatal(err)
	}
	channelID := strings.Repeat("c", 64)
	if _, _, err := f.store.FetchOrInsertChannelCache(ctx, types.ChannelCache{ChannelID: channelID, CreatorPubKey: alice}); err != nil {
		t.Fatal(err)
	}
	evt := testutil.SignedEvent(t, testutil.NewKeys(t, 2), 1_700_000_500, 1, nil, "note")
	if _, _, err := f.store.InsertEvent(ctx, &evt, "wss://relay.one.example"); err != nil {
		t.Fatal(err)
	}

	since, _ := f.backend.since(ctx)
	filters, err := f.backend.subscriptions(ctx, since)
	if err != nil {
		t.Fatal(err)
	}
	if len(filters) != 6 {
		t.Fatalf("got %d filters, want 6", len(filters))
	}
	if filters[3].Authors[0] != alice {
		t.Errorf("contact metadata filter = %+v", filters[3])
	}
	if filters[5].ETags[0] != channelID || *filters[5].Since != 1_700_000_500 {
		t.Errorf("channel filter = %+v", filters[5])
	}
}

func TestSendDMConfirmedByOK(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	if err := f.backend.Start(ctx); err != nil {
		t.Fatal(err)
	}

	alice := testutil.NewKeys(t, 2).PublicKey()
	if err := f.backend.HandleIntent(ctx, &types.IntentSendDM{To: alice, Text: "hello"}); err != nil {
		t.Fatalf("HandleIntent() error = %v", err)
	}

	pendingNote := f.await(t, types.NotificationPendingDM)
	confirmed := f.await(t, types.NotificationConfirmedDM)
	if confirmed.EventID != pendingNote.EventID || confirmed.Message.Content != "hello" {
		t.Errorf("confirmed = %+v", confirmed)
	}
	if f.backend.Ledger().Len() != 0 {
		t.Error("ledger still holds the confirmed event")
	}

	msgs, err := f.store.FetchMessages(ctx, alice)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("messages = %v, %v", msgs, err)
	}
}

func TestPublishFailureKeepsEventPending(t *testing.T) {
	f := newFixture(t, false)
	f.net.failWith = errors.New("all relays down")
	ctx := context.Background()

	err := f.backend.HandleIntent(ctx, &types.IntentSendDM{To: testutil.NewKeys(t, 2).PublicKey(), Text: "hi"})
	if !errors.Is(err, compose.ErrNetwork) {
		t.Fatalf("error = %v, want ErrNetwork", err)
	}
	n := f.await(t, types.NotificationError)
	if n.EventID == "" {
		t.Error("error notification does not name the event")
	}
	if f.backend.Ledger().Len() != 1 {
		t.Error("failed publish was not kept pending")
	}
}

func TestAddAndDeleteContact(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	alice := testutil.NewKeys(t, 2).PublicKey()

	err := f.backend.HandleIntent(ctx, &types.IntentAddContact{PubKey: alice, Petname: "alice", RelayURL: "wss://relay.one.example/"})
	if err != nil {
		t.Fatalf("add error = %v", err)
	}
	created := f.await(t, types.NotificationContactCreated)
	if *created.Contact.Petname != "alice" || *created.Contact.RelayURL != "wss://relay.one.example" {
		t.Errorf("contact = %+v", created.Contact)
	}
	list := f.net.lastPublished(t)
	if list.Kind != 3 || len(list.Tags) != 1 || list.Tags[0][1] != alice {
		t.Errorf("published contact list = %+v", list)
	}

	if err := f.backend.HandleIntent(ctx, &types.IntentDeleteContact{PubKey: alice}); err != nil {
		t.Fatalf("delete error = %v", err)
	}
	f.await(t, types.NotificationContactDeleted)
	if list := f.net.lastPublished(t); len(list.Tags) != 0 {
		t.Errorf("contact list after delete = %+v", list.Tags)
	}

	if err := f.backend.HandleIntent(ctx, &types.IntentDeleteContact{PubKey: alice}); !errors.Is(err, compose.ErrInvalidInput) {
		t.Errorf("deleting unknown contact error = %v", err)
	}
}

func TestAddSelfContactRejected(t *testing.T) {
	f := newFixture(t, false)
	err := f.backend.HandleIntent(context.Background(), &types.IntentAddContact{PubKey: f.backend.PubKey()})
	if !errors.Is(err, store.ErrSelfContact) {
		t.Fatalf("error = %v, want ErrSelfContact", err)
	}
	n := f.await(t, types.NotificationError)
	if !strings.Contains(n.Error, "yourself") {
		t.Errorf("error summary = %q", n.Error)
	}
}

func TestConnectToRelay(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	if err := f.backend.HandleIntent(ctx, &types.IntentConnectToRelay{URL: "http://nope.example"}); !errors.Is(err, compose.ErrInvalidInput) {
		t.Errorf("invalid url error = %v", err)
	}

	if err := f.backend.HandleIntent(ctx, &types.IntentConnectToRelay{URL: "wss://relay.three.example"}); err != nil {
		t.Fatalf("error = %v", err)
	}
	n := f.await(t, types.NotificationRelayListUpdated)
	if len(n.Relays) != 1 || n.Relays[0].URL != "wss://relay.three.example" {
		t.Errorf("relays = %+v", n.Relays)
	}
	if list := f.net.lastPublished(t); list.Kind != 10002 || list.Tags[0][1] != "wss://relay.three.example" {
		t.Errorf("relay list = %+v", list)
	}
	if len(f.net.filters["wss://relay.three.example"]) == 0 {
		t.Error("no subscriptions on the new relay")
	}
}

func TestResetUnseen(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	alice := testutil.NewKeys(t, 2).PublicKey()

	if _, _, err := f.store.InsertContactIfAbsent(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.IncrementUnseen(ctx, alice); err != nil {
		t.Fatal(err)
	}

	if err := f.backend.HandleIntent(ctx, &types.IntentResetUnseen{PubKey: alice}); err != nil {
		t.Fatalf("error = %v", err)
	}
	n := f.await(t, types.NotificationContactUpdated)
	if n.Contact.UnseenMessages != 0 {
		t.Errorf("unseen = %d", n.Contact.UnseenMessages)
	}
}

func TestSyncClock(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	if err := f.backend.HandleIntent(ctx, &types.IntentSyncClock{}); err != nil {
		t.Fatalf("error = %v", err)
	}
	if n := f.await(t, types.NotificationClockSynced); n.OffsetMillis != 2500 {
		t.Errorf("offset = %d, want 2500", n.OffsetMillis)
	}
	uc, err := f.store.FetchUserConfig(ctx)
	if err != nil || uc.ClockOffsetMillis != 2500 {
		t.Fatalf("stored offset = %d, %v", uc.ClockOffsetMillis, err)
	}

	if err := f.backend.HandleIntent(ctx, &types.IntentCreateChannel{Metadata: types.ChannelMetadata{Name: "go"}}); err != nil {
		t.Fatal(err)
	}
	if got := f.net.lastPublished(t).CreatedAt; got != 1_700_000_002 {
		t.Errorf("created_at = %d, want corrected 1700000002", got)
	}

	f.time.Err = errors.New("ntp unreachable")
	if err := f.backend.HandleIntent(ctx, types.IntentSyncClock{}); err == nil {
		t.Error("sync with failing source succeeded")
	}
	f.await(t, types.NotificationError)
	if uc, _ := f.store.FetchUserConfig(ctx); uc.ClockOffsetMillis != 2500 {
		t.Error("failed sync changed the stored offset")
	}
}

func TestDecodeIntent(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{`{"type":"send_dm","to":"ab","text":"hi"}`, "send_dm"},
		{`{"type":"update_profile","profile":{"name":"n"}}`, "update_profile"},
		{`{"type":"add_contact","pubkey":"ab","petname":"p"}`, "add_contact"},
		{`{"type":"delete_contact","pubkey":"ab"}`, "delete_contact"},
		{`{"type":"connect_to_relay","url":"wss://r.example"}`, "connect_to_relay"},
		{`{"type":"create_channel","metadata":{"name":"c"}}`, "create_channel"},
		{`{"type":"update_channel","channel_id":"ab","metadata":{"name":"c"}}`, "update_channel"},
		{`{"type":"send_channel_message","channel_id":"ab","text":"t"}`, "send_channel_message"},
		{`{"type":"reset_unseen","pubkey":"ab"}`, "reset_unseen"},
		{`{"type":"sync_clock"}`, "sync_clock"},
	}
	for _, tt := range tests {
		intent, err := DecodeIntent([]byte(tt.line))
		if err != nil {
			t.Errorf("DecodeIntent(%s) error = %v", tt.line, err)
			continue
		}
		if intent.IntentName() != tt.want {
			t.Errorf("DecodeIntent(%s) = %s", tt.line, intent.IntentName())
		}
	}

	dm, _ := DecodeIntent([]byte(`{"type":"send_dm","to":"ab","text":"hi"}`))
	if got := dm.(*types.IntentSendDM); got.To != "ab" || got.Text != "hi" {
		t.Errorf("send_dm fields = %+v", got)
	}

	if _, err := DecodeIntent([]byte(`{"type":"launch_rocket"}`)); !errors.Is(err, ErrUnknownIntent) {
		t.Errorf("unknown type error = %v", err)
	}
	if _, err := DecodeIntent([]byte(`not json`)); err == nil {
		t.Error("invalid JSON accepted")
	}
}
