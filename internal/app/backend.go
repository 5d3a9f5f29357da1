// Package app wires the store, ledger, reconciler, composer and relay pool
// into one backend driven by intents.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"nostr-desk/internal/cache"
	"nostr-desk/internal/clock"
	"nostr-desk/internal/compose"
	"nostr-desk/internal/config"
	"nostr-desk/internal/identity"
	"nostr-desk/internal/nips"
	"nostr-desk/internal/nostr"
	"nostr-desk/internal/pending"
	"nostr-desk/internal/reconcile"
	"nostr-desk/internal/relay"
	"nostr-desk/internal/store"
	"nostr-desk/internal/types"
)

// Pending events older than this are dropped from the ledger and reported.
const (
	pendingTTL      = 10 * time.Minute
	pendingInterval = time.Minute
)

// maxFutureSkew bounds how far past the corrected clock a stored created_at
// may lie and still move the start of the subscriptions.
const maxFutureSkew = 15 * time.Minute

// Network is the relay side of the backend.
type Network interface {
	compose.Network
	Connect(ctx context.Context, url string) error
	Subscribe(ctx context.Context, url, subID string, filter types.Filter) (string, error)
	Close() error
}

// Options configures New. Only Config, Keys and Store are required.
type Options struct {
	Config *config.Config
	Keys   *identity.Keys
	Store  *store.Store

	// NewNetwork builds the network delivering into out. Nil means a relay
	// pool sized from Config.
	NewNetwork func(out chan<- types.RelayMessage) Network
	Cache      cache.Backend    // nil builds one from Config.Cache
	Clock      clock.Clock      // nil means the system clock
	TimeSource clock.TimeSource // nil means NTP against Config.Clock.NTPServer
	Sink       types.Sink
	Logger     *slog.Logger
}

// Backend owns every component of a running client.
type Backend struct {
	cfg        *config.Config
	keys       *identity.Keys
	store      *store.Store
	cache      cache.Backend
	ledger     *pending.Ledger
	network    Network
	inbound    chan types.RelayMessage
	clock      *clock.Corrected
	timeSource clock.TimeSource
	reconciler *reconcile.Reconciler
	composer   *compose.Composer
	sink       types.Sink
	log        *slog.Logger

	syncGroup singleflight.Group

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
	runErr  error
}

// New builds a Backend. The local public key is recorded in the store and
// the clock starts from the persisted offset.
func New(ctx context.Context, opts Options) (*Backend, error) {
	if opts.Config == nil || opts.Keys == nil || opts.Store == nil {
		return nil, errors.New("app: config, keys and store are required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cfg := opts.Config

	if err := opts.Store.SetLocalPubKey(ctx, opts.Keys.PublicKey()); err != nil {
		return nil, err
	}
	uc, err := opts.Store.FetchUserConfig(ctx)
	if err != nil {
		return nil, err
	}

	backend := opts.Cache
	if backend == nil {
		cc := cache.DefaultConfig()
		cc.RedisURL = cfg.Cache.RedisURL
		if cfg.Cache.MaxEntries > 0 {
			cc.MaxEntries = cfg.Cache.MaxEntries
		}
		if backend, err = cache.New(cc); err != nil {
			return nil, err
		}
	}

	timeSource := opts.TimeSource
	if timeSource == nil {
		timeSource = clock.NTPSource{Server: cfg.Clock.NTPServer}
	}

	queue := cfg.Inbound.QueueSize
	if queue <= 0 {
		queue = 1024
	}
	inbound := make(chan types.RelayMessage, queue)

	var network Network
	if opts.NewNetwork != nil {
		network = opts.NewNetwork(inbound)
	} else {
		network = relay.NewPool(inbound, relay.Config{
			RatePerSecond: cfg.Publish.RatePerSecond,
			Burst:         cfg.Publish.Burst,
			Logger:        log,
		})
	}

	b := &Backend{
		cfg:        cfg,
		keys:       opts.Keys,
		store:      opts.Store,
		cache:      backend,
		ledger:     pending.New(),
		network:    network,
		inbound:    inbound,
		clock:      clock.NewCorrected(opts.Clock, uc.ClockOffsetMillis),
		timeSource: timeSource,
		sink:       newSyncSink(opts.Sink),
		log:        log,
	}
	codec := nips.NewCodec(opts.Keys.PrivateKey())

	b.reconciler = reconcile.New(reconcile.Config{
		LocalPubKey: opts.Keys.PublicKey(),
		Store:       opts.Store,
		Ledger:      b.ledger,
		Codec:       codec,
		Verifier:    nostr.NewVerifier(backend, cfg.VerifiedTTL(cache.DefaultConfig().VerifiedTTL)),
		Sink:        b.sink,
		Logger:      log,
	})
	b.composer = compose.New(compose.Config{
		Keys:          opts.Keys,
		Codec:         codec,
		Ledger:        b.ledger,
		Store:         opts.Store,
		Network:       network,
		Clock:         b.clock,
		Sink:          b.sink,
		Logger:        log,
		DefaultRelays: cfg.Relays,
	})
	return b, nil
}

// PubKey returns the local public key.
func (b *Backend) PubKey() string { return b.keys.PublicKey() }

// Stats returns the reconciler counters.
func (b *Backend) Stats() reconcile.Stats { return b.reconciler.Stats() }

// Ledger exposes the pending events.
func (b *Backend) Ledger() *pending.Ledger { return b.ledger }

// Start seeds the relay table from the configuration when it is empty,
// connects to the relays, subscribes from the latest stored event and starts
// the reconciler.
func (b *Backend) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return errors.New("app: already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true
	b.mu.Unlock()

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		err := b.reconciler.Run(runCtx, b.inbound)
		if err != nil && !errors.Is(err, context.Canceled) {
			b.mu.Lock()
			b.runErr = err
			b.mu.Unlock()
		}
	}()
	go func() {
		defer b.wg.Done()
		b.expirePending(runCtx)
	}()

	if b.cfg.Clock.SyncOnRun {
		if _, err := b.SyncClock(ctx); err != nil {
			b.log.Warn("clock sync failed, keeping stored offset", "error", err)
		}
	}

	relays, err := b.seedRelays(ctx)
	if err != nil {
		return err
	}
	since, err := b.since(ctx)
	if err != nil {
		return err
	}
	filters, err := b.subscriptions(ctx, since)
	if err != nil {
		return err
	}

	connected := 0
	for _, r := range relays {
		if !r.Read {
			continue
		}
		if err := b.subscribeAll(ctx, r.URL, filters); err != nil {
			b.log.Warn("relay unavailable", "relay", r.URL, "error", err)
			continue
		}
		connected++
	}
	b.log.Info("backend started", "pubkey", nostr.ShortID(b.PubKey()), "relays", connected, "since", since)
	return nil
}

// Close stops the reconciler, closes the network and releases the cache. The
// store is owned by the caller.
func (b *Backend) Close() error {
	b.mu.Lock()
	cancel, running := b.cancel, b.running
	b.running = false
	b.mu.Unlock()

	var errs []error
	if err := b.network.Close(); err != nil {
		errs = append(errs, err)
	}
	if running {
		cancel()
		b.wg.Wait()
	}
	if err := b.cache.Close(); err != nil {
		errs = append(errs, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runErr != nil {
		errs = append(errs, b.runErr)
	}
	return errors.Join(errs...)
}

// seedRelays returns the relay table, filling it from the configuration on
// first run.
func (b *Backend) seedRelays(ctx context.Context) ([]types.RelayInfo, error) {
	relays, err := b.store.FetchRelays(ctx)
	if err != nil || len(relays) > 0 {
		return relays, err
	}
	for _, raw := range b.cfg.Relays {
		url := nostr.NormalizeRelayURL(raw)
		if url == "" {
			b.log.Warn("skipping invalid relay in config", "relay", raw)
			continue
		}
		if err := b.store.UpsertRelay(ctx, types.RelayInfo{URL: url, Read: true, Write: true}); err != nil {
			return nil, err
		}
	}
	return b.store.FetchRelays(ctx)
}

// since is the created_at subscriptions resume from. Events dated too far
// ahead of the corrected clock are ignored so one of them cannot hide
// everything published until then.
func (b *Backend) since(ctx context.Context) (int64, error) {
	return b.store.LatestCreatedAt(ctx, b.clock.Unix()+int64(maxFutureSkew/time.Second))
}

func (b *Backend) subscribeAll(ctx context.Context, url string, filters []types.Filter) error {
	if err := b.network.Connect(ctx, url); err != nil {
		return err
	}
	for _, f := range filters {
		if _, err := b.network.Subscribe(ctx, url, "", f); err != nil {
			return fmt.Errorf("subscribing: %w", err)
		}
	}
	return nil
}

// expirePending drops ledger entries that never got confirmed.
func (b *Backend) expirePending(ctx context.Context) {
	ticker := time.NewTicker(pendingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range b.ledger.Evict(pendingTTL) {
				b.log.Warn("pending event expired", "event_id", nostr.ShortID(p.Event.ID), "kind", p.Event.Kind)
				n := types.ErrorNotification("event was never confirmed by a relay")
				n.EventID = p.Event.ID
				b.sink.Notify(n)
			}
		}
	}
}

// syncSink serializes notifications from the reconciler goroutine and
// intent handlers.
type syncSink struct {
	mu   sync.Mutex
	next types.Sink
}

func newSyncSink(next types.Sink) *syncSink {
	return &syncSink{next: next}
}

func (s *syncSink) Notify(n types.Notification) {
	if s.next == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next.Notify(n)
}
