// Package transport provides the datagram transports a protocol session can
// run over: a UDP socket, WebSocket binary messages, a WebRTC DataChannel and
// an in-memory pipe.
//
// Every transport queues inbound datagrams in a bounded buffer. Poll takes
// from it without blocking, and Readable signals when something arrived, so
// a single goroutine can wait on several transports.
package transport

import (
	"errors"
	"net"
	"sync/atomic"

	"github.com/1ureka/rtnet/internal/util"
)

// DefaultQueueSize is the inbound queue capacity, in datagrams.
const DefaultQueueSize = 1024

var (
	ErrClosed      = errors.New("transport: closed")
	ErrUnknownPeer = errors.New("transport: unknown peer")
	ErrQueueFull   = errors.New("transport: send queue full")
)

type datagram struct {
	data []byte
	from net.Addr
}

// queue is a bounded, non-blocking datagram buffer. When full, new
// datagrams are dropped: late game state is worthless and reliable traffic
// is retransmitted anyway.
type queue struct {
	ch      chan datagram
	notify  chan struct{}
	dropped atomic.Int64
}

func newQueue(size int) *queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &queue{
		ch:     make(chan datagram, size),
		notify: make(chan struct{}, 1),
	}
}

// push enqueues data (which must not be reused by the caller) and reports
// whether it fit.
func (q *queue) push(data []byte, from net.Addr) bool {
	select {
	case q.ch <- datagram{data: data, from: from}:
	default:
		if n := q.dropped.Add(1); n&(n-1) == 0 {
			util.LogWarning("inbound queue full, %d datagrams dropped so far", n)
		}
		return false
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Poll returns the oldest queued datagram, or ok=false if none is queued.
func (q *queue) Poll() (data []byte, from net.Addr, ok bool) {
	select {
	case d := <-q.ch:
		return d.data, d.from, true
	default:
		return nil, nil, false
	}
}

// Readable returns a channel that receives a value after datagrams have been
// queued. Drain with Poll until it reports nothing, then wait again.
func (q *queue) Readable() <-chan struct{} {
	return q.notify
}

// Dropped returns the number of inbound datagrams lost to a full queue.
func (q *queue) Dropped() int64 {
	return q.dropped.Load()
}

// Option configures a transport.
type Option func(*options)

type options struct {
	queueSize int
	readLimit int
}

func defaultOptions() options {
	return options{
		queueSize: DefaultQueueSize,
		readLimit: 64 * 1024,
	}
}

// WithQueueSize sets the inbound queue capacity.
func WithQueueSize(n int) Option {
	return func(o *options) { o.queueSize = n }
}

// WithReadLimit sets the largest datagram accepted, in bytes.
func WithReadLimit(n int) Option {
	return func(o *options) { o.readLimit = n }
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
