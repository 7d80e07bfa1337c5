package transport

import (
	"net"
	"sync"
	"sync/atomic"
)

// PipeAddr names one end of a Pipe.
type PipeAddr string

func (a PipeAddr) Network() string { return "pipe" }
func (a PipeAddr) String() string  { return string(a) }

// Pipe is one end of an in-memory datagram link. Whatever one end sends, the
// other end polls. It is meant for tests and for running a client and a
// server in one process.
type Pipe struct {
	*queue
	addr PipeAddr
	peer *Pipe

	mu     sync.Mutex
	filter func(data []byte) bool

	closed atomic.Bool
}

// NewPipe returns two linked ends named "a" and "b".
func NewPipe(opts ...Option) (a, b *Pipe) {
	return NewNamedPipe("a", "b", opts...)
}

// NewNamedPipe returns two linked ends with the given addresses.
func NewNamedPipe(nameA, nameB string, opts ...Option) (a, b *Pipe) {
	o := applyOptions(opts)
	a = &Pipe{queue: newQueue(o.queueSize), addr: PipeAddr(nameA)}
	b = &Pipe{queue: newQueue(o.queueSize), addr: PipeAddr(nameB)}
	a.peer, b.peer = b, a
	return a, b
}

// LocalAddr returns the address of this end.
func (p *Pipe) LocalAddr() net.Addr { return p.addr }

// RemoteAddr returns the address of the other end.
func (p *Pipe) RemoteAddr() net.Addr { return p.peer.addr }

// SetFilter installs fn to decide which outbound datagrams are delivered.
// Returning false drops the datagram, which simulates loss. nil delivers
// everything.
func (p *Pipe) SetFilter(fn func(data []byte) bool) {
	p.mu.Lock()
	p.filter = fn
	p.mu.Unlock()
}

// SendTo delivers a copy of data to the other end. addr must be nil or the
// other end's address.
func (p *Pipe) SendTo(data []byte, addr net.Addr) error {
	if p.closed.Load() || p.peer.closed.Load() {
		return ErrClosed
	}
	if addr != nil && addr.String() != p.peer.addr.String() {
		return ErrUnknownPeer
	}

	p.mu.Lock()
	filter := p.filter
	p.mu.Unlock()
	if filter != nil && !filter(data) {
		return nil
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	p.peer.push(buf, p.addr)
	return nil
}

// Inject queues data on this end as if the other end had sent it.
func (p *Pipe) Inject(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	p.push(buf, p.peer.addr)
}

// Close makes both directions fail with ErrClosed.
func (p *Pipe) Close() error {
	p.closed.Store(true)
	return nil
}
