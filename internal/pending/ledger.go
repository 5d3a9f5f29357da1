// Package pending tracks locally created events that relays have not
// confirmed yet.
package pending

import (
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync"

	"nostr-desk/internal/types"
)

// Payload is the display data kept with a pending event so the UI can show
// it before any relay echoes it back.
type Payload struct {
	Plaintext  string // decrypted DM text or channel message text
	ChatPubKey string // DM peer
	ChannelID  string
	ReplyTo    string
}

// PendingEvent is a signed event awaiting confirmation.
type PendingEvent struct {
	Event     types.Event
	Targets   []string
	CreatedAt time.Time
	Payload
}

// Ledger is safe for concurrent use: the composer adds while the reconciler
// confirms.
type Ledger struct {
	events *xsync.MapOf[string, *PendingEvent]
	now    func() time.Time
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		events: xsync.NewMapOf[*PendingEvent](),
		now:    time.Now,
	}
}

// SetClock replaces the clock used to stamp new entries.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Add registers evt. Adding an id twice replaces the earlier entry.
func (l *Ledger) Add(evt types.Event, targets []string, payload Payload) *PendingEvent {
	p := &PendingEvent{
		Event:     evt,
		Targets:   append([]string(nil), targets...),
		CreatedAt: l.now(),
		Payload:   payload,
	}
	l.events.Store(evt.ID, p)
	return p
}

// Confirm removes and returns the entry for id. Only the first caller for a
// given id gets ok == true.
func (l *Ledger) Confirm(id string) (*PendingEvent, bool) {
	return l.events.LoadAndDelete(id)
}

// FindMatchingInbound reports whether evt is the echo of a pending event,
// without removing it.
func (l *Ledger) FindMatchingInbound(evt *types.Event) (*PendingEvent, bool) {
	if evt == nil {
		return nil, false
	}
	return l.events.Load(evt.ID)
}

// Get returns the entry for id.
func (l *Ledger) Get(id string) (*PendingEvent, bool) {
	return l.events.Load(id)
}

// Len returns the number of pending events.
func (l *Ledger) Len() int {
	return l.events.Size()
}

// List returns the pending events, oldest first.
func (l *Ledger) List() []*PendingEvent {
	var out []*PendingEvent
	l.events.Range(func(_ string, p *PendingEvent) bool {
		out = append(out, p)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Event.ID < out[j].Event.ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Evict drops entries created more than maxAge ago and returns them.
func (l *Ledger) Evict(maxAge time.Duration) []*PendingEvent {
	cutoff := l.now().Add(-maxAge)
	var evicted []*PendingEvent
	for _, p := range l.List() {
		if !p.CreatedAt.Before(cutoff) {
			break
		}
		if removed, ok := l.events.LoadAndDelete(p.Event.ID); ok {
			evicted = append(evicted, removed)
		}
	}
	return evicted
}
