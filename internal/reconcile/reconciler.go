// Package reconcile folds events arriving from relays into the local store
// and tells the UI what changed.
package reconcile

import (
	"context"
	"log/slog"
	"sync/atomic"

	"nostr-desk/internal/nostr"
	"nostr-desk/internal/pending"
	"nostr-desk/internal/types"
)

// Decrypter opens DM payloads exchanged with peer.
type Decrypter interface {
	Decrypt(peer, payload string) (string, error)
}

// EventVerifier checks id and signature of an inbound event.
type EventVerifier interface {
	Verify(ctx context.Context, evt *types.Event) error
}

// Config holds the collaborators of a Reconciler.
type Config struct {
	LocalPubKey string
	Store       Store
	Ledger      *pending.Ledger
	Codec       Decrypter
	Verifier    EventVerifier // nil means nostr.Verify
	Sink        types.Sink
	Logger      *slog.Logger
}

// Stats is a snapshot of the reconciler counters.
type Stats struct {
	Processed  int64 `json:"processed"`
	Duplicates int64 `json:"duplicates"`
	Rejected   int64 `json:"rejected"`
	Dropped    int64 `json:"dropped"`
	Errors     int64 `json:"errors"`
}

// Reconciler processes relay messages one at a time. It is not safe for
// concurrent use; Run is the single consumer.
type Reconciler struct {
	local    string
	store    Store
	ledger   *pending.Ledger
	codec    Decrypter
	verifier EventVerifier
	sink     types.Sink
	log      *slog.Logger

	processed  atomic.Int64
	duplicates atomic.Int64
	rejected   atomic.Int64
	dropped    atomic.Int64
	errors     atomic.Int64
}

type verifyFunc func(*types.Event) error

func (f verifyFunc) Verify(_ context.Context, evt *types.Event) error { return f(evt) }

// New creates a Reconciler.
func New(cfg Config) *Reconciler {
	r := &Reconciler{
		local:    cfg.LocalPubKey,
		store:    cfg.Store,
		ledger:   cfg.Ledger,
		codec:    cfg.Codec,
		verifier: cfg.Verifier,
		sink:     cfg.Sink,
		log:      cfg.Logger,
	}
	if r.verifier == nil {
		r.verifier = verifyFunc(nostr.Verify)
	}
	if r.ledger == nil {
		r.ledger = pending.New()
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Stats returns the current counters.
func (r *Reconciler) Stats() Stats {
	return Stats{
		Processed:  r.processed.Load(),
		Duplicates: r.duplicates.Load(),
		Rejected:   r.rejected.Load(),
		Dropped:    r.dropped.Load(),
		Errors:     r.errors.Load(),
	}
}

// Run handles messages from in until ctx is cancelled or in is closed.
// Messages still queued on cancellation are abandoned.
func (r *Reconciler) Run(ctx context.Context, in <-chan types.RelayMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.Handle(ctx, msg)
		}
	}
}

// Handle processes one message to completion.
func (r *Reconciler) Handle(ctx context.Context, msg types.RelayMessage) {
	switch m := msg.(type) {
	case types.EventMessage:
		r.handleEvent(ctx, m.Relay, &m.Event)
	case types.OKMessage:
		r.handleOK(ctx, m)
	case types.EOSEMessage:
		r.notify(types.Notification{
			Type:           types.NotificationEndOfStoredEvents,
			Relay:          m.Relay,
			SubscriptionID: m.SubscriptionID,
		})
	case types.StatusMessage:
		r.handleStatus(ctx, m)
	case types.NoticeMessage:
		r.log.Info("relay notice", "relay", m.Relay, "message", m.Message)
	default:
		r.log.Warn("unknown relay message", "relay", msg.Origin())
	}
}

func (r *Reconciler) handleEvent(ctx context.Context, relay string, evt *types.Event) {
	if err := r.verifier.Verify(ctx, evt); err != nil {
		r.rejected.Add(1)
		r.log.Warn("rejected event", "relay", relay, "event_id", nostr.ShortID(evt.ID), "error", err)
		return
	}

	// A match means this is the echo of an event we published. It leaves the
	// ledger only once the event is stored.
	p, _ := r.ledger.FindMatchingInbound(evt)
	r.apply(ctx, relay, evt, p)
}

func (r *Reconciler) handleOK(ctx context.Context, m types.OKMessage) {
	if !m.Accepted {
		r.log.Warn("relay rejected event", "relay", m.Relay, "event_id", nostr.ShortID(m.EventID), "message", m.Message)
		n := types.ErrorNotification("relay " + m.Relay + " rejected event: " + m.Message)
		n.Relay, n.EventID = m.Relay, m.EventID
		r.notify(n)
		return
	}

	p, ok := r.ledger.Get(m.EventID)
	if !ok {
		// Already confirmed, or not ours: just remember the relay has it.
		if err := r.store.AddEventRelay(ctx, m.EventID, m.Relay); err != nil {
			r.fail("recording relay acknowledgement", m.EventID, err)
		}
		return
	}
	evt := p.Event
	r.apply(ctx, m.Relay, &evt, p)
}

func (r *Reconciler) handleStatus(ctx context.Context, m types.StatusMessage) {
	if err := r.store.SetRelayStatus(ctx, m.Relay, m.Status); err != nil {
		r.fail("storing relay status", "", err)
	}
	n := types.Notification{Type: types.NotificationRelayStatusChanged, Relay: m.Relay, Status: m.Status}
	if m.Err != nil {
		n.Error = m.Err.Error()
		r.log.Info("relay status", "relay", m.Relay, "status", m.Status, "error", m.Err)
	} else {
		r.log.Debug("relay status", "relay", m.Relay, "status", m.Status)
	}
	r.notify(n)
}

// apply runs the per-kind handler. p is the pending entry the event
// confirms, or nil; it is removed from the ledger only when the handler
// succeeded, so a failed echo can be confirmed by the next one.
func (r *Reconciler) apply(ctx context.Context, relay string, evt *types.Event, p *pending.PendingEvent) {
	r.processed.Add(1)

	var err error
	switch nostr.ClassifyKind(evt.Kind) {
	case nostr.KindMetadata:
		err = r.handleMetadata(ctx, relay, evt)
	case nostr.KindContactList:
		err = r.handleContactList(ctx, relay, evt)
	case nostr.KindEncryptedDirectMessage:
		err = r.handleDirectMessage(ctx, relay, evt, p)
	case nostr.KindChannelCreation:
		err = r.handleChannelCreation(ctx, relay, evt)
	case nostr.KindChannelMetadata:
		err = r.handleChannelMetadata(ctx, relay, evt)
	case nostr.KindChannelMessage:
		err = r.handleChannelMessage(ctx, relay, evt, p)
	case nostr.KindRelayList:
		err = r.handleRelayList(ctx, relay, evt)
	case nostr.KindOther:
		_, err = r.insertRaw(ctx, relay, evt)
	}
	if err != nil {
		r.fail("processing "+nostr.ClassifyKind(evt.Kind).String(), evt.ID, err)
		return
	}
	if p == nil {
		return
	}

	r.ledger.Confirm(evt.ID)
	if !confirmsWithMessage(evt.Kind) {
		r.notify(types.Notification{Type: types.NotificationConfirmedPublish, Relay: relay, EventID: evt.ID})
	}
}

// confirmsWithMessage reports whether the kind has its own confirmation
// notification carrying the message.
func confirmsWithMessage(kind int) bool {
	switch nostr.ClassifyKind(kind) {
	case nostr.KindEncryptedDirectMessage, nostr.KindChannelMessage:
		return true
	}
	return false
}

// insertRaw stores evt and reports whether it was new. Duplicates only record
// the relay acknowledgement.
func (r *Reconciler) insertRaw(ctx context.Context, relay string, evt *types.Event) (bool, error) {
	_, n, err := r.store.InsertEvent(ctx, evt, relay)
	if err != nil {
		return false, err
	}
	if n == 0 {
		r.duplicates.Add(1)
		return false, nil
	}
	return true, nil
}

func (r *Reconciler) notify(n types.Notification) {
	if r.sink != nil {
		r.sink.Notify(n)
	}
}

func (r *Reconciler) fail(action, eventID string, err error) {
	r.errors.Add(1)
	r.log.Error("reconcile failed", "action", action, "event_id", nostr.ShortID(eventID), "error", err)
	n := types.ErrorNotification(action + " failed")
	n.EventID = eventID
	r.notify(n)
}
