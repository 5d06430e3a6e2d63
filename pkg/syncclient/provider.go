// Package syncclient keeps a local document in sync with a room on the relay.
// It runs the reconciliation handshake on every connect and reconnects with
// exponential backoff, so edits made while offline are delivered once the
// relay is reachable again.
package syncclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/a-essam23/layoutsync/pkg/crdt"
	"github.com/a-essam23/layoutsync/pkg/protocol"
	"github.com/a-essam23/layoutsync/pkg/transport"
	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

var ErrClosed = errors.New("provider closed")

type BackoffOptions struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

type Options struct {
	// URL is the relay's WebSocket base, e.g. ws://localhost:8080/ws. The room
	// id is appended as a path segment. Empty leaves the provider disconnected.
	URL         string
	Room        string
	DialTimeout time.Duration
	Backoff     BackoffOptions
	Transport   transport.ConnectionConfig
	Logger      *slog.Logger
}

type Provider struct {
	doc    *crdt.Map
	opts   Options
	logger *slog.Logger

	// mu orders the handshake snapshot against local updates: a local op is
	// either in the sync state or sent on the new connection.
	mu       sync.Mutex
	conn     *transport.Connection
	status   Status
	cancel   context.CancelFunc
	stop     chan struct{}
	done     chan struct{}
	stopping bool
	closed   bool

	hookMu      sync.Mutex
	nextHook    int
	statusHooks map[int]func(Status)
	peerHooks   map[int]func([]string)

	unsubscribe func()
}

// New binds a provider to doc. Nothing is dialed until Connect.
func New(doc *crdt.Map, opts Options) *Provider {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	p := &Provider{
		doc:         doc,
		opts:        opts,
		status:      StatusDisconnected,
		statusHooks: make(map[int]func(Status)),
		peerHooks:   make(map[int]func([]string)),
		logger: opts.Logger.With(
			slog.String("component", "sync_provider"),
			slog.String("roomID", opts.Room),
			slog.String("peerID", doc.Peer()),
		),
	}
	p.unsubscribe = doc.OnUpdate(p.onDocUpdate)
	return p
}

func (p *Provider) Doc() *crdt.Map { return p.doc }
func (p *Provider) Room() string   { return p.opts.Room }
func (p *Provider) Peer() string   { return p.doc.Peer() }

func (p *Provider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Connect starts the connection loop in the background and returns
// immediately. Calling it while already running is a no-op.
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.cancel != nil {
		p.mu.Unlock()
		return nil
	}
	if p.opts.URL == "" {
		p.mu.Unlock()
		p.logger.Warn("No relay URL configured, staying offline")
		return nil
	}
	target, err := p.endpoint()
	if err != nil {
		p.mu.Unlock()
		p.logger.Error("Invalid relay URL, staying offline", slog.Any("error", err))
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.stopping = false
	stop, done := p.stop, p.done
	p.mu.Unlock()

	go p.run(runCtx, target, stop, done)
	return nil
}

func (p *Provider) endpoint() (string, error) {
	base, err := url.Parse(p.opts.URL)
	if err != nil {
		return "", err
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("relay URL %q has no scheme or host", p.opts.URL)
	}
	u := base.JoinPath(url.PathEscape(p.opts.Room))
	q := u.Query()
	q.Set("peer", p.doc.Peer())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *Provider) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.opts.Backoff.Initial > 0 {
		b.InitialInterval = p.opts.Backoff.Initial
	}
	if p.opts.Backoff.Max > 0 {
		b.MaxInterval = p.opts.Backoff.Max
	}
	if p.opts.Backoff.Multiplier >= 1 {
		b.Multiplier = p.opts.Backoff.Multiplier
	}
	b.Reset()
	return b
}

func (p *Provider) run(ctx context.Context, target string, stop, done chan struct{}) {
	defer close(done)
	b := p.newBackoff()

	for {
		p.setStatus(StatusConnecting)
		conn, err := p.dial(ctx, target)
		if err != nil {
			p.logger.Debug("Dial failed", slog.Any("error", err))
		} else {
			b.Reset()
			select {
			case <-conn.Done():
			case <-ctx.Done():
			}
		}

		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		p.setStatus(StatusDisconnected)

		wait := b.NextBackOff()
		p.logger.Debug("Reconnecting", slog.Duration("in", wait))
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// dial opens a connection and starts the handshake. The returned connection
// is already running.
func (p *Provider) dial(ctx context.Context, target string) (*transport.Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.opts.DialTimeout)
	defer cancel()
	ws, _, err := websocket.Dial(dialCtx, target, nil)
	if err != nil {
		return nil, err
	}

	var conn *transport.Connection
	conn = transport.NewConnection(ctx, nil, ws, p.opts.Transport,
		func(_ context.Context, _ uuid.UUID, msg []byte) { p.handleMessage(conn, msg) },
		func(_ uuid.UUID, err error) { p.detach(conn, err) },
		p.logger,
	)

	p.mu.Lock()
	if p.stopping || p.closed {
		p.mu.Unlock()
		conn.Close(ErrClosed)
		return nil, ErrClosed
	}
	p.conn = conn
	hello, err := protocol.EncodeUpdate(protocol.TypeSync, p.opts.Room, p.doc.Peer(), p.doc.State())
	if err == nil {
		err = conn.Send(hello)
	}
	p.mu.Unlock()
	if err != nil {
		conn.Close(err)
		return nil, fmt.Errorf("failed to send sync: %w", err)
	}

	conn.Run()
	p.logger.Info("Connected to relay, awaiting state")
	return conn, nil
}

func (p *Provider) detach(conn *transport.Connection, err error) {
	p.mu.Lock()
	if p.conn == conn {
		p.conn = nil
	}
	p.mu.Unlock()
	if err != nil {
		p.logger.Info("Relay connection lost", slog.Any("error", err))
	}
}

func (p *Provider) handleMessage(conn *transport.Connection, msg []byte) {
	m, err := protocol.Decode(msg)
	if err != nil {
		p.logger.Warn("Failed to decode relay message", slog.Any("error", err))
		return
	}
	switch m.Type {
	case protocol.TypeState, protocol.TypeUpdate:
		u, err := m.DecodeUpdate()
		if err != nil {
			p.logger.Warn("Failed to decode update", slog.String("type", string(m.Type)), slog.Any("error", err))
			return
		}
		p.doc.Apply(u, p)
		if m.Type == protocol.TypeState {
			p.mu.Lock()
			current := p.conn == conn
			p.mu.Unlock()
			if current {
				p.setStatus(StatusConnected)
			}
		}
	case protocol.TypePresence:
		p.emitPeers(m.Peers)
	default:
		p.logger.Debug("Ignoring relay message", slog.String("type", string(m.Type)))
	}
}

// onDocUpdate forwards local changes. Changes merged from the relay carry the
// provider as origin and are not echoed back.
func (p *Provider) onDocUpdate(u crdt.Update, origin any) {
	if origin == p {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return
	}
	msg, err := protocol.EncodeUpdate(protocol.TypeUpdate, p.opts.Room, p.doc.Peer(), u)
	if err != nil {
		p.logger.Error("Failed to encode local update", slog.Any("error", err))
		return
	}
	// a failed send closes the connection; the next handshake carries the op.
	if err := p.conn.Send(msg); err != nil {
		p.logger.Debug("Local update not sent", slog.Any("error", err))
	}
}

// Disconnect stops reconnecting, flushes pending frames and closes the
// connection. The provider can Connect again afterwards.
func (p *Provider) Disconnect() {
	p.mu.Lock()
	cancel, stop, done, conn := p.cancel, p.stop, p.done, p.conn
	p.stopping = true
	p.cancel = nil
	p.conn = nil
	p.mu.Unlock()

	if cancel == nil {
		p.setStatus(StatusDisconnected)
		return
	}
	close(stop)
	if conn != nil {
		conn.Shutdown()
		select {
		case <-conn.Done():
		case <-time.After(p.opts.DialTimeout):
			conn.Close(ErrClosed)
		}
	}
	cancel()
	<-done
	p.setStatus(StatusDisconnected)
	p.emitPeers(nil)
}

// Close disconnects and detaches from the document for good.
func (p *Provider) Close() {
	p.Disconnect()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.unsubscribe()
}
