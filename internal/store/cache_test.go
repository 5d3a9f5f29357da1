package store

import (
	"context"
	"strings"
	"testing"

	"nostr-desk/internal/types"
)

func TestUpsertProfileCache(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, _, err := s.InsertContactIfAbsent(ctx, aliceKey); err != nil {
		t.Fatal(err)
	}

	updated, err := s.UpsertProfileCache(ctx, types.ProfileCache{
		PubKey: aliceKey, Metadata: types.ProfileInfo{Name: "v1"}, EventHash: "h1", UpdatedAt: 2000,
	})
	if err != nil || !updated {
		t.Fatalf("UpsertProfileCache() = (%v, %v)", updated, err)
	}

	// Equal timestamp is stale.
	updated, err = s.UpsertProfileCache(ctx, types.ProfileCache{
		PubKey: aliceKey, Metadata: types.ProfileInfo{Name: "same"}, EventHash: "h2", UpdatedAt: 2000,
	})
	if err != nil || updated {
		t.Errorf("equal UpsertProfileCache() = (%v, %v)", updated, err)
	}
	// Older is stale.
	updated, _ = s.UpsertProfileCache(ctx, types.ProfileCache{
		PubKey: aliceKey, Metadata: types.ProfileInfo{Name: "old"}, EventHash: "h3", UpdatedAt: 1000,
	})
	if updated {
		t.Error("older profile replaced newer one")
	}

	pc, err := s.FetchProfileCache(ctx, aliceKey)
	if err != nil {
		t.Fatalf("FetchProfileCache() error = %v", err)
	}
	if pc.Metadata.Name != "v1" || pc.EventHash != "h1" {
		t.Errorf("FetchProfileCache() = %+v", pc)
	}
	c, _ := s.FetchContact(ctx, aliceKey)
	if c.Profile == nil || c.Profile.Name != "v1" {
		t.Errorf("contact profile = %+v", c.Profile)
	}

	updated, _ = s.UpsertProfileCache(ctx, types.ProfileCache{
		PubKey: aliceKey, Metadata: types.ProfileInfo{Name: "v2"}, EventHash: "h4", UpdatedAt: 3000,
	})
	if !updated {
		t.Error("newer profile was not applied")
	}
	c, _ = s.FetchContact(ctx, aliceKey)
	if c.Profile.Name != "v2" {
		t.Errorf("contact profile after update = %+v", c.Profile)
	}
}

func TestChannelCache(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	channel := strings.Repeat("ab", 32)

	cc := types.ChannelCache{
		ChannelID:     channel,
		CreatorPubKey: aliceKey,
		CreatedAt:     5000,
		Metadata:      types.ChannelMetadata{Name: "general"},
		UpdatedAt:     5000,
	}
	got, inserted, err := s.FetchOrInsertChannelCache(ctx, cc)
	if err != nil || !inserted || got.Metadata.Name != "general" {
		t.Fatalf("FetchOrInsertChannelCache() = (%+v, %v, %v)", got, inserted, err)
	}

	again := cc
	again.Metadata.Name = "ignored"
	got, inserted, err = s.FetchOrInsertChannelCache(ctx, again)
	if err != nil || inserted || got.Metadata.Name != "general" {
		t.Errorf("second FetchOrInsertChannelCache() = (%+v, %v, %v)", got, inserted, err)
	}

	updated, err := s.UpdateChannelMetadata(ctx, channel, types.ChannelMetadata{Name: "same-time"}, "m0", 5000)
	if err != nil || updated {
		t.Errorf("equal UpdateChannelMetadata() = (%v, %v)", updated, err)
	}
	updated, err = s.UpdateChannelMetadata(ctx, channel, types.ChannelMetadata{Name: "renamed"}, "m1", 6000)
	if err != nil || !updated {
		t.Fatalf("UpdateChannelMetadata() = (%v, %v)", updated, err)
	}
	updated, _ = s.UpdateChannelMetadata(ctx, strings.Repeat("00", 32), types.ChannelMetadata{}, "m2", 9000)
	if updated {
		t.Error("unknown channel reported updated")
	}

	stored, err := s.FetchChannelCache(ctx, channel)
	if err != nil {
		t.Fatalf("FetchChannelCache() error = %v", err)
	}
	if stored.Metadata.Name != "renamed" || stored.UpdatedEventHash == nil || *stored.UpdatedEventHash != "m1" || stored.UpdatedAt != 6000 {
		t.Errorf("FetchChannelCache() = %+v", stored)
	}

	all, _ := s.FetchChannelCaches(ctx)
	if len(all) != 1 {
		t.Errorf("FetchChannelCaches() = %v", all)
	}
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	dm := testEvent("71", aliceKey, 10, 4, [][]string{{"p", localKey}}, "cipher")
	if _, _, err := s.InsertEvent(ctx, dm, ""); err != nil {
		t.Fatal(err)
	}
	msg := types.DirectMessage{
		EventID: dm.ID, ContactPubKey: aliceKey, FromPubKey: aliceKey, ToPubKey: localKey,
		Content: "hi", CreatedAt: 10_000,
	}
	if err := s.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("InsertMessage() error = %v", err)
	}
	if err := s.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("duplicate InsertMessage() error = %v", err)
	}
	msgs, err := s.FetchMessages(ctx, aliceKey)
	if err != nil || len(msgs) != 1 || msgs[0].Content != "hi" || msgs[0].IsFromUser {
		t.Errorf("FetchMessages() = (%+v, %v)", msgs, err)
	}

	channel := strings.Repeat("ab", 32)
	cm := testEvent("72", bobKey, 20, 42, [][]string{{"e", channel, "", "root"}}, "yo")
	if _, _, err := s.InsertEvent(ctx, cm, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertChannelMessage(ctx, types.ChannelMessage{
		EventID: cm.ID, ChannelID: channel, AuthorKey: bobKey, Content: "yo", CreatedAt: 20_000,
	}); err != nil {
		t.Fatalf("InsertChannelMessage() error = %v", err)
	}
	cms, err := s.FetchChannelMessages(ctx, channel)
	if err != nil || len(cms) != 1 || cms[0].AuthorKey != bobKey {
		t.Errorf("FetchChannelMessages() = (%+v, %v)", cms, err)
	}

	// Messages go with their event.
	if err := s.DeleteEvent(ctx, dm.ID); err != nil {
		t.Fatal(err)
	}
	if msgs, _ := s.FetchMessages(ctx, aliceKey); len(msgs) != 0 {
		t.Errorf("FetchMessages() after delete = %+v", msgs)
	}
}
