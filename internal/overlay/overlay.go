// Package overlay manages the worker's WebSocket connections to the
// relay network: dialing, subscribing with a filter, reconnecting
// with exponential backoff on unexpected close, and publishing signed
// events with bounded retry. It is the sole network ingress — every
// inbound event it decodes is handed to a single dispatch callback
// that turns it into a job context or admin request.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nostrworks/video-dvm/internal/event"
	"github.com/nostrworks/video-dvm/internal/nostrcrypto"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 90 * time.Second
	pingPeriod        = 30 * time.Second
	initialBackoff    = 1 * time.Second
	maxBackoff        = 60 * time.Second
	publishRetries    = 3
	publishRetryDelay = 1 * time.Second
	subscribeRetries  = 5
	subscribeBackoff  = 2 * time.Second
	queryDeadline     = 10 * time.Second
)

// ErrNoRelaysConnected is returned when a publish or query is
// attempted with no live relay connections.
var ErrNoRelaysConnected = errors.New("overlay: no relays connected")

// Handler receives every inbound event the pool has parsed, already
// deduplicated by the caller. It is invoked from whichever relay
// connection's read pump received the event, so implementations must
// be safe for concurrent use.
type Handler func(relayURL string, ev *event.Event)

// Pool manages a set of relay connections sharing one dispatch
// handler and one signing identity.
type Pool struct {
	keys    *nostrcrypto.KeyPair
	log     *slog.Logger
	handler Handler

	mu      sync.RWMutex
	conns   map[string]*relayConn
	filters []event.Filter
	subID   string
}

// New constructs a Pool. handler is invoked for every event received
// on any connection once subscriptions are active.
func New(keys *nostrcrypto.KeyPair, log *slog.Logger, handler Handler) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		keys:    keys,
		log:     log,
		handler: handler,
		conns:   make(map[string]*relayConn),
		subID:   "video-dvm",
	}
}

// Connect adds relayURLs to the pool, each running its own
// connect/read/reconnect loop until ctx is cancelled. Safe to call
// multiple times; existing connections for URLs already present are
// left untouched.
func (p *Pool) Connect(ctx context.Context, relayURLs []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range relayURLs {
		if _, ok := p.conns[u]; ok {
			continue
		}
		rc := newRelayConn(u, p)
		p.conns[u] = rc
		go rc.run(ctx)
	}
}

// Disconnect closes and removes the connection for relayURL, if any.
func (p *Pool) Disconnect(relayURL string) {
	p.mu.Lock()
	rc, ok := p.conns[relayURL]
	if ok {
		delete(p.conns, relayURL)
	}
	p.mu.Unlock()
	if ok {
		rc.close()
	}
}

// SetRelays reconciles the pool's live connections to exactly
// relayURLs: connects any missing and disconnects any no longer
// present. Called by the admin engine after set_relays mutates the
// config, via the config-change notifier.
func (p *Pool) SetRelays(ctx context.Context, relayURLs []string) {
	wanted := make(map[string]struct{}, len(relayURLs))
	for _, u := range relayURLs {
		wanted[u] = struct{}{}
	}

	p.mu.RLock()
	var toRemove []string
	for u := range p.conns {
		if _, ok := wanted[u]; !ok {
			toRemove = append(toRemove, u)
		}
	}
	p.mu.RUnlock()

	for _, u := range toRemove {
		p.Disconnect(u)
	}
	p.Connect(ctx, relayURLs)
}

// Subscribe installs filters on every connected relay (and remembers
// them so future reconnects and newly added relays re-subscribe
// automatically). Retries per-relay send failures up to
// subscribeRetries times with a fixed subscribeBackoff delay.
func (p *Pool) Subscribe(ctx context.Context, filters ...event.Filter) error {
	p.mu.Lock()
	p.filters = filters
	conns := make([]*relayConn, 0, len(p.conns))
	for _, rc := range p.conns {
		conns = append(conns, rc)
	}
	p.mu.Unlock()

	if len(conns) == 0 {
		return &OverlayError{Kind: KindNoRelays, Err: ErrNoRelaysConnected}
	}

	var firstErr error
	for _, rc := range conns {
		if err := rc.subscribeWithRetry(ctx, filters); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Publish assumes ev is already signed; it sends the wire frame to
// every connected relay, retrying each send up to publishRetries
// times with linearly increasing delay. Returns an error only if
// every relay failed.
func (p *Pool) Publish(ctx context.Context, ev *event.Event) error {
	p.mu.RLock()
	conns := make([]*relayConn, 0, len(p.conns))
	for _, rc := range p.conns {
		conns = append(conns, rc)
	}
	p.mu.RUnlock()

	if len(conns) == 0 {
		return &OverlayError{Kind: KindNoRelays, Err: ErrNoRelaysConnected}
	}

	frame, err := event.EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	successes := 0
	var lastErr error
	for _, rc := range conns {
		if err := rc.sendWithRetry(ctx, frame); err != nil {
			lastErr = err
			continue
		}
		successes++
	}
	if successes == 0 {
		return &OverlayError{Kind: KindPublish, Err: fmt.Errorf("publish to all relays failed: %w", lastErr)}
	}
	return nil
}

// PublishTo adds targetRelays to the pool if not already present,
// then publishes ev, giving newly added relays time to complete their
// initial connection before the send attempt.
func (p *Pool) PublishTo(ctx context.Context, ev *event.Event, targetRelays []string) error {
	p.Connect(ctx, targetRelays)
	return p.Publish(ctx, ev)
}

// ConnectedRelays returns the URLs currently tracked by the pool
// (regardless of live connection state).
func (p *Pool) ConnectedRelays() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.conns))
	for u := range p.conns {
		out = append(out, u)
	}
	return out
}

func (p *Pool) dispatch(relayURL string, ev *event.Event) {
	if p.handler != nil {
		p.handler(relayURL, ev)
	}
}

func (p *Pool) currentFilters() []event.Filter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.filters
}

func (p *Pool) subscriptionID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.subID
}

// relayConn owns a single WebSocket connection with its own
// reconnect-with-backoff loop, mirroring this family's relay client:
// dial, wait for the server's handshake, start a read pump and a ping
// pump, and on unexpected close back off exponentially before
// redialing.
type relayConn struct {
	url  string
	pool *Pool
	log  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

func newRelayConn(u string, p *Pool) *relayConn {
	return &relayConn{
		url:  u,
		pool: p,
		log:  p.log.With("relay", u),
		done: make(chan struct{}),
	}
}

func (rc *relayConn) run(ctx context.Context) {
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		case <-rc.done:
			return
		default:
		}

		if err := rc.dial(ctx); err != nil {
			rc.log.Warn("relay dial failed, backing off", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-rc.done:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = initialBackoff
		if filters := rc.pool.currentFilters(); len(filters) > 0 {
			_ = rc.subscribeWithRetry(ctx, filters)
		}
		rc.readPump(ctx)

		rc.mu.Lock()
		if rc.conn != nil {
			rc.conn.Close()
			rc.conn = nil
		}
		rc.mu.Unlock()
	}
}

func (rc *relayConn) dial(ctx context.Context) error {
	if _, err := url.Parse(rc.url); err != nil {
		return fmt.Errorf("parse relay url: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, queryDeadline)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, rc.url, nil)
	if err != nil {
		return &OverlayError{Kind: KindDial, Err: fmt.Errorf("dial: %w", err)}
	}

	rc.mu.Lock()
	rc.conn = conn
	rc.mu.Unlock()

	rc.log.Info("relay connected")
	return nil
}

func (rc *relayConn) readPump(ctx context.Context) {
	rc.mu.Lock()
	conn := rc.conn
	rc.mu.Unlock()
	if conn == nil {
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go rc.pingPump(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			return
		case <-rc.done:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				rc.log.Warn("relay read error", "error", err)
			}
			return
		}
		rc.handleMessage(msg)
	}
}

func (rc *relayConn) pingPump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-rc.done:
			return
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (rc *relayConn) handleMessage(data []byte) {
	msg, err := event.ParseIncoming(data)
	if err != nil {
		rc.log.Debug("dropping malformed relay message", "error", err)
		return
	}

	switch msg.Type {
	case event.WireEvent:
		ev, err := msg.AsEvent()
		if err != nil {
			rc.log.Debug("dropping malformed EVENT frame", "error", err)
			return
		}
		ok, err := event.Verify(ev)
		if err != nil || !ok {
			rc.log.Debug("dropping event with invalid signature", "id", ev.ID)
			return
		}
		rc.pool.dispatch(rc.url, ev)
	case event.WireNotice:
		if notice, err := msg.AsNotice(); err == nil {
			rc.log.Debug("relay notice", "message", notice)
		}
	case event.WireOK, event.WireEOSE:
		// Publish/subscription acknowledgements; nothing to dispatch.
	default:
		rc.log.Debug("unhandled relay message type", "type", msg.Type)
	}
}

func (rc *relayConn) send(frame []byte) error {
	rc.mu.Lock()
	conn := rc.conn
	rc.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("relay %s: not connected", rc.url)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (rc *relayConn) sendWithRetry(ctx context.Context, frame []byte) error {
	var lastErr error
	for attempt := 1; attempt <= publishRetries; attempt++ {
		if err := rc.send(frame); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(publishRetryDelay * time.Duration(attempt)):
			}
			continue
		}
		return nil
	}
	return lastErr
}

func (rc *relayConn) subscribeWithRetry(ctx context.Context, filters []event.Filter) error {
	frame, err := event.EncodeReq(rc.pool.subscriptionID(), filters...)
	if err != nil {
		return fmt.Errorf("encode REQ: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= subscribeRetries; attempt++ {
		if err := rc.send(frame); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(subscribeBackoff):
			}
			continue
		}
		return nil
	}
	return lastErr
}

func (rc *relayConn) close() {
	close(rc.done)
	rc.mu.Lock()
	if rc.conn != nil {
		rc.conn.Close()
	}
	rc.mu.Unlock()
}
