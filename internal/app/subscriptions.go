package app

import (
	"context"

	"nostr-desk/internal/nostr"
	"nostr-desk/internal/types"
)

// subscriptions returns the filters that keep the local view current: own
// replaceable events, DMs in both directions, contacts' metadata and known
// channels. since = 0 fetches everything.
func (b *Backend) subscriptions(ctx context.Context, since int64) ([]types.Filter, error) {
	local := b.PubKey()
	var sincePtr *int64
	if since > 0 {
		sincePtr = &since
	}

	filters := []types.Filter{
		{Authors: []string{local}, Kinds: []int{nostr.KindNumMetadata, nostr.KindNumContactList, nostr.KindNumRelayList}, Since: sincePtr},
		{Kinds: []int{nostr.KindNumEncryptedDM}, PTags: []string{local}, Since: sincePtr},
		{Kinds: []int{nostr.KindNumEncryptedDM}, Authors: []string{local}, Since: sincePtr},
	}

	contacts, err := b.store.FetchContacts(ctx)
	if err != nil {
		return nil, err
	}
	if len(contacts) > 0 {
		authors := make([]string, len(contacts))
		for i, c := range contacts {
			authors[i] = c.PubKey
		}
		filters = append(filters, types.Filter{Authors: authors, Kinds: []int{nostr.KindNumMetadata}, Since: sincePtr})
	}

	channels, err := b.store.FetchChannelCaches(ctx)
	if err != nil {
		return nil, err
	}
	if len(channels) > 0 {
		ids := make([]string, len(channels))
		for i, c := range channels {
			ids[i] = c.ChannelID
		}
		filters = append(filters,
			types.Filter{IDs: ids, Kinds: []int{nostr.KindNumChannelCreate}},
			types.Filter{ETags: ids, Kinds: []int{nostr.KindNumChannelMeta, nostr.KindNumChannelMsg}, Since: sincePtr},
		)
	}
	return filters, nil
}
