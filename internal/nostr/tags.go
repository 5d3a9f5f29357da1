package nostr

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingTag means the relation the event kind requires is absent.
	ErrMissingTag = errors.New("missing tag")
	// ErrMalformedTag means the relation is present but unusable.
	ErrMalformedTag = errors.New("malformed tag")
)

// TagError describes a tag parsing failure. Events failing tag parsing are
// still stored raw; only the kind-specific processing is skipped.
type TagError struct {
	Tag    string
	Reason string
	err    error
}

func (e *TagError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%v: %q", e.err, e.Tag)
	}
	return fmt.Sprintf("%v: %q: %s", e.err, e.Tag, e.Reason)
}

func (e *TagError) Unwrap() error { return e.err }

func missingTag(tag string) error {
	return &TagError{Tag: tag, err: ErrMissingTag}
}

func malformedTag(tag, reason string) error {
	return &TagError{Tag: tag, Reason: reason, err: ErrMalformedTag}
}

// TagInfo is the relation data extracted from an event's tags.
type TagInfo struct {
	Recipient string // p
	ChannelID string // e with root marker
	ReplyTo   string // e with reply marker, or the first e of a DM
	RelayHint string
}

// ContactTag is one p entry of a contact list (NIP-02).
type ContactTag struct {
	PubKey   string
	RelayURL string
	Petname  string
}

// ParseDirectMessageTags extracts the recipient of a kind 4 event.
func ParseDirectMessageTags(tags [][]string) (TagInfo, error) {
	var info TagInfo
	for _, tag := range tags {
		if len(tag) == 0 {
			continue
		}
		switch tag[0] {
		case "p":
			if info.Recipient != "" {
				continue
			}
			if len(tag) < 2 {
				return TagInfo{}, malformedTag("p", "no value")
			}
			if !IsHexKey(tag[1]) {
				return TagInfo{}, malformedTag("p", "recipient is not a hex pubkey")
			}
			info.Recipient = tag[1]
			if len(tag) > 2 {
				info.RelayHint = tag[2]
			}
		case "e":
			if info.ReplyTo == "" && len(tag) >= 2 && IsHexKey(tag[1]) {
				info.ReplyTo = tag[1]
			}
		}
	}
	if info.Recipient == "" {
		return TagInfo{}, missingTag("p")
	}
	return info, nil
}

// ParseChannelTags extracts the channel reference of a kind 41 or 42 event.
// An e tag marked "root" wins; otherwise the first e tag is the channel (NIP-28
// positional form).
func ParseChannelTags(tags [][]string) (TagInfo, error) {
	var info TagInfo
	var firstE []string
	for _, tag := range tags {
		if len(tag) == 0 || tag[0] != "e" {
			continue
		}
		if len(tag) < 2 {
			return TagInfo{}, malformedTag("e", "no value")
		}
		if !IsHexKey(tag[1]) {
			return TagInfo{}, malformedTag("e", "event id is not hex")
		}
		marker := ""
		if len(tag) > 3 {
			marker = tag[3]
		}
		switch marker {
		case "root":
			if info.ChannelID == "" {
				info.ChannelID = tag[1]
				if len(tag) > 2 {
					info.RelayHint = tag[2]
				}
			}
		case "reply":
			if info.ReplyTo == "" {
				info.ReplyTo = tag[1]
			}
		default:
			if firstE == nil {
				firstE = tag
			} else if info.ReplyTo == "" {
				info.ReplyTo = tag[1]
			}
		}
	}
	if info.ChannelID == "" && firstE != nil {
		info.ChannelID = firstE[1]
		if len(firstE) > 2 {
			info.RelayHint = firstE[2]
		}
	}
	if info.ChannelID == "" {
		return TagInfo{}, missingTag("e")
	}
	if info.ReplyTo == info.ChannelID {
		info.ReplyTo = ""
	}
	return info, nil
}

// ParseContactListTags returns the valid p entries of a contact list and the
// errors for the entries it had to skip. Duplicated keys keep the first entry.
func ParseContactListTags(tags [][]string) ([]ContactTag, []error) {
	var (
		contacts []ContactTag
		errs     []error
	)
	seen := make(map[string]bool)
	for _, tag := range tags {
		if len(tag) == 0 || tag[0] != "p" {
			continue
		}
		if len(tag) < 2 || !IsHexKey(tag[1]) {
			errs = append(errs, malformedTag("p", "contact is not a hex pubkey"))
			continue
		}
		if seen[tag[1]] {
			continue
		}
		seen[tag[1]] = true

		c := ContactTag{PubKey: tag[1]}
		if len(tag) > 2 {
			c.RelayURL = NormalizeRelayURL(tag[2])
		}
		if len(tag) > 3 {
			c.Petname = tag[3]
		}
		contacts = append(contacts, c)
	}
	return contacts, errs
}

// ParseRelayListTags reads the r entries of a NIP-65 relay list.
func ParseRelayListTags(tags [][]string) []RelayListEntry {
	var entries []RelayListEntry
	seen := make(map[string]bool)
	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != "r" {
			continue
		}
		url := NormalizeRelayURL(tag[1])
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		entry := RelayListEntry{URL: url, Read: true, Write: true}
		if len(tag) > 2 {
			switch tag[2] {
			case "read":
				entry.Write = false
			case "write":
				entry.Read = false
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// RelayListEntry is one r entry of a relay list.
type RelayListEntry struct {
	URL   string
	Read  bool
	Write bool
}
