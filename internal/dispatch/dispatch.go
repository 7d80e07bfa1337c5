// Package dispatch bridges datagram transports and protocol sessions for an
// application event loop. It demultiplexes each attached transport by source
// endpoint, runs one goroutine per peer that owns that peer's session, turns
// inbound messages into Events, and turns Send calls into session sends.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/1ureka/rtnet/internal/protocol"
	"github.com/1ureka/rtnet/internal/session"
	"github.com/1ureka/rtnet/internal/util"
)

var (
	ErrClosed      = errors.New("dispatch: bridge closed")
	ErrUnknownPeer = errors.New("dispatch: unknown peer")
	ErrBusy        = errors.New("dispatch: peer send queue full")
)

// Drop reasons recorded by the bridge itself, before a session sees the
// datagram.
const (
	DropNoise       = "noise"
	DropPeerLimit   = "peer_limit"
	DropRateLimited = "rate_limited"
	DropInboxFull   = "inbox_full"
)

// Transport is a datagram transport the bridge can wait on.
type Transport interface {
	session.Transport
	Readable() <-chan struct{}
}

// Peer identifies one remote endpoint on one attached transport.
type Peer struct {
	Transport int // index returned by Attach
	Addr      net.Addr
}

func (p Peer) String() string {
	return fmt.Sprintf("%d/%s", p.Transport, addrString(p.Addr))
}

func (p Peer) key() string {
	if p.Addr == nil {
		return fmt.Sprintf("%d|", p.Transport)
	}
	return fmt.Sprintf("%d|%s|%s", p.Transport, p.Addr.Network(), p.Addr.String())
}

func addrString(a net.Addr) string {
	if a == nil {
		return "<nil>"
	}
	return a.String()
}

// Event is an inbound session event tagged with the peer it came from.
type Event struct {
	Peer Peer
	session.Event
}

// Bridge owns the route table from endpoints to peer sessions.
type Bridge struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   options

	events chan Event
	wg     sync.WaitGroup

	mu         sync.Mutex
	transports []Transport
	routes     map[string]*peer
	closed     bool

	nextID    atomic.Uint32
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// New creates a bridge with no transports attached. It stops when ctx is
// cancelled or Close is called.
func New(ctx context.Context, opts ...Option) *Bridge {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	bCtx, cancel := context.WithCancel(ctx)
	return &Bridge{
		ctx:    bCtx,
		cancel: cancel,
		opts:   o,
		events: make(chan Event, o.eventBuffer),
		routes: make(map[string]*peer),
	}
}

// Events returns the channel inbound events are delivered on. It is closed
// after Close returns.
func (b *Bridge) Events() <-chan Event { return b.events }

// Dropped returns how many datagrams the bridge discarded before they
// reached a session.
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }

// Attach starts reading t and returns the index peers on it are tagged
// with. Datagrams from unknown endpoints open a new session when they carry
// a valid protocol header.
func (b *Bridge) Attach(t Transport) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := len(b.transports)
	b.transports = append(b.transports, t)
	if b.closed {
		return idx
	}

	b.wg.Add(1)
	go b.readLoop(idx, t)
	return idx
}

// Connect opens a session with addr on the transport at index idx without
// waiting for it to send first. This is the client side of a connection.
func (b *Bridge) Connect(idx int, addr net.Addr, opts ...session.Option) (Peer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if idx < 0 || idx >= len(b.transports) {
		return Peer{}, fmt.Errorf("dispatch: no transport %d", idx)
	}
	id := Peer{Transport: idx, Addr: addr}
	if _, ok := b.routes[id.key()]; ok {
		return id, nil
	}
	if _, err := b.openLocked(id, opts); err != nil {
		return Peer{}, err
	}
	return id, nil
}

// Send queues m for p on the default channel of its command. It never
// blocks; ErrBusy means the peer's queue is full.
func (b *Bridge) Send(p Peer, m protocol.Message) error {
	return b.submit(p, request{channel: protocol.DefaultChannel(m.Command()), msg: m})
}

// SendOn queues m for p on ch.
func (b *Bridge) SendOn(p Peer, ch protocol.Channel, m protocol.Message) error {
	return b.submit(p, request{channel: ch, msg: m})
}

// Broadcast queues m for every connected peer and returns how many accepted
// it.
func (b *Bridge) Broadcast(m protocol.Message) int {
	n := 0
	for _, p := range b.Peers() {
		if b.Send(p, m) == nil {
			n++
		}
	}
	return n
}

// Disconnect closes the session with p. Unacknowledged reliable sends are
// abandoned.
func (b *Bridge) Disconnect(p Peer) {
	b.mu.Lock()
	pr, ok := b.routes[p.key()]
	b.mu.Unlock()
	if ok {
		pr.cancel()
	}
}

// Peers returns the peers with an open session.
func (b *Bridge) Peers() []Peer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Peer, 0, len(b.routes))
	for _, p := range b.routes {
		out = append(out, p.id)
	}
	return out
}

// Close stops every peer goroutine and reader, then closes Events. It does
// not close the attached transports.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		b.cancel()
		b.wg.Wait()
		close(b.events)
	})
	return nil
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

// readLoop drains t whenever it signals readable and routes every datagram
// to its peer.
func (b *Bridge) readLoop(idx int, t Transport) {
	defer b.wg.Done()

	var done <-chan struct{}
	if d, ok := t.(interface{ Done() <-chan struct{} }); ok {
		done = d.Done()
	}

	for {
		for {
			data, from, ok := t.Poll()
			if !ok {
				break
			}
			b.route(Peer{Transport: idx, Addr: from}, data)
		}
		select {
		case <-t.Readable():
		case <-done:
			util.LogDebug("transport %d closed, dropping its peers", idx)
			b.disconnectTransport(idx)
			return
		case <-b.ctx.Done():
			return
		}
	}
}

// route hands data to the peer it came from, opening a session for a new
// endpoint when the datagram looks like ours.
func (b *Bridge) route(id Peer, data []byte) {
	b.mu.Lock()
	p, ok := b.routes[id.key()]
	if !ok {
		if !looksValid(data) {
			b.mu.Unlock()
			b.drop(DropNoise, id)
			return
		}
		if len(b.routes) >= b.opts.maxPeers {
			b.mu.Unlock()
			b.drop(DropPeerLimit, id)
			return
		}
		var err error
		if p, err = b.openLocked(id, nil); err != nil {
			b.mu.Unlock()
			if !errors.Is(err, ErrClosed) {
				util.LogError("failed to open session with %s: %v", id, err)
			}
			return
		}
		util.LogInfo("new peer %s", id)
	}
	b.mu.Unlock()

	if !p.limiter.Allow() {
		b.drop(DropRateLimited, id)
		return
	}
	if !p.deliver(data) {
		b.drop(DropInboxFull, id)
	}
}

// looksValid reports whether data starts with a protocol header of this
// family. Anything else never opens a session.
func looksValid(data []byte) bool {
	h, err := protocol.DecodeHeader(data)
	return err == nil && h.Magic == protocol.MagicUDP
}

// openLocked creates, registers and starts the peer for id. b.mu is held.
func (b *Bridge) openLocked(id Peer, extra []session.Option) (*peer, error) {
	if b.closed || b.ctx.Err() != nil {
		return nil, ErrClosed
	}
	opts := make([]session.Option, 0, len(b.opts.sessionOpts)+len(extra)+2)
	opts = append(opts, session.WithID(b.nextID.Add(1)), session.WithMetrics(b.opts.metrics))
	opts = append(opts, b.opts.sessionOpts...)
	opts = append(opts, extra...)

	p, err := newPeer(b, id, b.transports[id.Transport], opts)
	if err != nil {
		return nil, err
	}
	b.register(p)

	b.wg.Add(1)
	go p.run()
	return p, nil
}

// register adds p to the route table and removes it once p's context is
// done.
func (b *Bridge) register(p *peer) {
	b.routes[p.id.key()] = p

	go func() {
		<-p.ctx.Done()
		b.mu.Lock()
		if b.routes[p.id.key()] == p {
			delete(b.routes, p.id.key())
		}
		b.mu.Unlock()
	}()
}

func (b *Bridge) submit(id Peer, req request) error {
	if b.ctx.Err() != nil {
		return ErrClosed
	}
	b.mu.Lock()
	p, ok := b.routes[id.key()]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	return p.submit(req)
}

func (b *Bridge) disconnectTransport(idx int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.routes {
		if p.id.Transport == idx {
			p.cancel()
		}
	}
}

// emit delivers ev to the application, waiting while the event buffer is
// full.
func (b *Bridge) emit(ev Event) {
	select {
	case b.events <- ev:
	case <-b.ctx.Done():
	}
}

func (b *Bridge) drop(reason string, from Peer) {
	b.dropped.Add(1)
	b.opts.metrics.Dropped(reason)
	util.LogDebug("dropped datagram from %s (%s)", from, reason)
}
