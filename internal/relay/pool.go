// Package relay maintains websocket connections to relays and funnels
// everything they send into one channel.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"nostr-desk/internal/nostr"
	"nostr-desk/internal/types"
)

var (
	// ErrBlockedURL is returned for relay URLs that fail normalization.
	ErrBlockedURL = errors.New("relay URL blocked: unsafe or malformed")
	// ErrPoolClosed is returned after Close.
	ErrPoolClosed = errors.New("relay pool closed")
)

// Config tunes the pool.
type Config struct {
	RatePerSecond    float64 // publishes per second per relay, 0 means unlimited
	Burst            int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Logger           *slog.Logger
}

// Conn is one websocket connection.
type Conn struct {
	url     string
	conn    *websocket.Conn
	limiter *rate.Limiter
	pool    *Pool

	mu            sync.Mutex
	writeMu       sync.Mutex
	subscriptions map[string]types.Filter
	closed        bool
	done          chan struct{}
}

// Pool manages connections to multiple relays. Read loops only enqueue
// messages; they never touch local state.
type Pool struct {
	out    chan<- types.RelayMessage
	dialer *websocket.Dialer
	cfg    Config
	log    *slog.Logger

	mu     sync.RWMutex
	conns  map[string]*Conn
	closed bool
	quit   chan struct{}
	wg     sync.WaitGroup

	dials singleflight.Group
}

// NewPool creates a pool delivering to out.
func NewPool(out chan<- types.RelayMessage, cfg Config) *Pool {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		out:    out,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		cfg:    cfg,
		log:    log,
		conns:  make(map[string]*Conn),
		quit:   make(chan struct{}),
	}
}

// Connect opens a connection to url unless one is already open.
func (p *Pool) Connect(ctx context.Context, url string) error {
	_, err := p.getOrCreateConn(ctx, url)
	return err
}

func (p *Pool) getOrCreateConn(ctx context.Context, rawURL string) (*Conn, error) {
	url := nostr.NormalizeRelayURL(rawURL)
	if url == "" {
		return nil, fmt.Errorf("%w: %q", ErrBlockedURL, rawURL)
	}

	p.mu.RLock()
	rc, closed := p.conns[url], p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}
	if rc != nil && !rc.isClosed() {
		return rc, nil
	}

	// Concurrent callers for one url share a dial, made with the first
	// caller's ctx.
	v, err, _ := p.dials.Do(url, func() (interface{}, error) {
		return p.dial(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Conn), nil
}

// dial opens a connection to url. The pool lock is only taken to check and
// register, so a slow handshake or a full inbound queue holds up callers of
// this url alone.
func (p *Pool) dial(ctx context.Context, url string) (*Conn, error) {
	p.mu.RLock()
	rc, closed := p.conns[url], p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}
	if rc != nil && !rc.isClosed() {
		return rc, nil
	}

	p.emit(types.StatusMessage{Relay: url, Status: types.RelayConnecting}, nil)
	p.log.Debug("relay pool: connecting", "relay", url)
	ws, _, err := p.dialer.DialContext(ctx, url, nil)
	if err != nil {
		p.emit(types.StatusMessage{Relay: url, Status: types.RelayDisconnected, Err: err}, nil)
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}

	limit := rate.Inf
	if p.cfg.RatePerSecond > 0 {
		limit = rate.Limit(p.cfg.RatePerSecond)
	}
	rc = &Conn{
		url:           url,
		conn:          ws,
		limiter:       rate.NewLimiter(limit, p.cfg.Burst),
		pool:          p,
		subscriptions: make(map[string]types.Filter),
		done:          make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		ws.Close()
		return nil, ErrPoolClosed
	}
	p.conns[url] = rc
	p.wg.Add(1)
	p.mu.Unlock()

	p.emit(types.StatusMessage{Relay: url, Status: types.RelayConnected}, nil)
	go rc.readLoop()
	return rc, nil
}

// emit enqueues msg, giving up when done closes or the pool shuts down.
func (p *Pool) emit(msg types.RelayMessage, done <-chan struct{}) {
	if p.out == nil {
		return
	}
	select {
	case p.out <- msg:
	case <-done:
	case <-p.quit:
	}
}

// Subscribe sends a REQ on url. An empty subID gets a random one, which is
// returned.
func (p *Pool) Subscribe(ctx context.Context, url, subID string, filter types.Filter) (string, error) {
	rc, err := p.getOrCreateConn(ctx, url)
	if err != nil {
		return "", err
	}
	if subID == "" {
		subID = uuid.NewString()
	}

	rc.mu.Lock()
	rc.subscriptions[subID] = filter
	rc.mu.Unlock()

	if err := rc.write(ctx, []interface{}{"REQ", subID, filter.Map()}); err != nil {
		rc.mu.Lock()
		delete(rc.subscriptions, subID)
		rc.mu.Unlock()
		rc.markClosed(err)
		return "", err
	}
	return subID, nil
}

// Unsubscribe sends CLOSE for subID (best effort).
func (p *Pool) Unsubscribe(url, subID string) {
	p.mu.RLock()
	rc := p.conns[nostr.NormalizeRelayURL(url)]
	p.mu.RUnlock()
	if rc == nil {
		return
	}

	rc.mu.Lock()
	_, exists := rc.subscriptions[subID]
	delete(rc.subscriptions, subID)
	shouldSendClose := exists && !rc.closed
	rc.mu.Unlock()

	if shouldSendClose {
		rc.write(context.Background(), []interface{}{"CLOSE", subID})
	}
}

// Publish writes evt to every relay in relays, connecting as needed. It
// succeeds when at least one relay took the frame; acceptance arrives later
// as an OKMessage.
func (p *Pool) Publish(ctx context.Context, evt types.Event, relays []string) error {
	if len(relays) == 0 {
		return errors.New("no relays to publish to")
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
		sent int
	)
	for _, url := range relays {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			err := p.publishTo(ctx, url, evt)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.log.Warn("failed to publish", "relay", url, "event_id", nostr.ShortID(evt.ID), "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", url, err))
				return
			}
			sent++
		}(url)
	}
	wg.Wait()

	if sent == 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (p *Pool) publishTo(ctx context.Context, url string, evt types.Event) error {
	rc, err := p.getOrCreateConn(ctx, url)
	if err != nil {
		return err
	}
	if err := rc.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limited: %w", err)
	}
	if err := rc.write(ctx, []interface{}{"EVENT", evt}); err != nil {
		rc.markClosed(err)
		return err
	}
	return nil
}

// Relays returns the URLs with an open connection.
func (p *Pool) Relays() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var urls []string
	for url, rc := range p.conns {
		if !rc.isClosed() {
			urls = append(urls, url)
		}
	}
	sort.Strings(urls)
	return urls
}

// CloseRelay drops the connection to url.
func (p *Pool) CloseRelay(url string) {
	url = nostr.NormalizeRelayURL(url)
	p.mu.Lock()
	rc := p.conns[url]
	delete(p.conns, url)
	p.mu.Unlock()
	if rc != nil {
		rc.markClosed(nil)
	}
}

// Close closes every connection and waits for the read loops to exit.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.quit)
	conns := make([]*Conn, 0, len(p.conns))
	for _, rc := range p.conns {
		conns = append(conns, rc)
	}
	p.conns = make(map[string]*Conn)
	p.mu.Unlock()

	for _, rc := range conns {
		rc.markClosed(nil)
	}
	p.wg.Wait()
	return nil
}

func (rc *Conn) isClosed() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.closed
}

func (rc *Conn) write(ctx context.Context, v interface{}) error {
	deadline := time.Now().Add(rc.pool.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	rc.writeMu.Lock()
	defer rc.writeMu.Unlock()
	if rc.isClosed() {
		return errors.New("connection closed")
	}
	if err := rc.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return rc.conn.WriteJSON(v)
}

// markClosed closes the socket once; the read loop reports the status.
func (rc *Conn) markClosed(cause error) {
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return
	}
	rc.closed = true
	close(rc.done)
	rc.mu.Unlock()

	if cause != nil {
		rc.pool.log.Info("relay pool: closing connection", "relay", rc.url, "error", cause)
	}
	rc.conn.Close()
}
