package reconcile

import (
	"context"

	"nostr-desk/internal/store"
	"nostr-desk/internal/types"
)

// Store is the part of the persistent store the reconciler writes to. Each
// Store* call applies one event atomically.
type Store interface {
	InsertEvent(ctx context.Context, evt *types.Event, relayURL string) (int64, int64, error)
	AddEventRelay(ctx context.Context, eventID, relayURL string) error
	FetchLatestOfKind(ctx context.Context, kind int, author string) (*types.StoredEvent, error)
	FetchLatestChannelMetadata(ctx context.Context, channelID, author string) (*types.StoredEvent, error)

	StoreMetadata(ctx context.Context, evt *types.Event, relayURL string, pc *types.ProfileCache) (bool, bool, error)
	StoreDirectMessage(ctx context.Context, w store.DirectMessageWrite) (store.DirectMessageResult, error)
	StoreChannelMessage(ctx context.Context, evt *types.Event, relayURL string, m types.ChannelMessage) (bool, error)
	StoreChannel(ctx context.Context, evt *types.Event, relayURL string, cc types.ChannelCache, update *store.ChannelUpdate) (bool, types.ChannelCache, *types.ChannelCache, error)
	StoreChannelMetadata(ctx context.Context, evt *types.Event, relayURL string, update *store.ChannelUpdate) (bool, bool, error)
	StoreRelayList(ctx context.Context, evt *types.Event, relayURL string, relays []types.RelayInfo) (bool, error)

	ReplaceContactList(ctx context.Context, oldID string, evt *types.Event, relayURL string, contacts []types.Contact) ([]types.Contact, error)
	FetchChannelCache(ctx context.Context, channelID string) (*types.ChannelCache, error)
	FetchRelays(ctx context.Context) ([]types.RelayInfo, error)
	SetRelayStatus(ctx context.Context, url, status string) error
}
