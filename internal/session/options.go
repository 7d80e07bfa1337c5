package session

import (
	"time"

	"github.com/1ureka/rtnet/internal/metrics"
	"github.com/1ureka/rtnet/internal/protocol"
	"github.com/1ureka/rtnet/internal/reliability"
)

// DefaultMaxDatagram is the largest datagram a session emits before it
// fragments. It stays under the common 1280-byte IPv6 minimum MTU.
const DefaultMaxDatagram = 1200

// DefaultIdleTimeout is how long a session waits for inbound traffic before
// it considers the peer lost.
const DefaultIdleTimeout = 30 * time.Second

type options struct {
	id              uint32
	version         uint8
	maxDatagram     int
	fragmentTimeout time.Duration
	maxFragments    int
	retry           reliability.RetryPolicy
	idleTimeout     time.Duration
	orderLimit      int
	clock           func() time.Time
	metrics         *metrics.Metrics
}

func defaultOptions() options {
	return options{
		version:         protocol.Version,
		maxDatagram:     DefaultMaxDatagram,
		fragmentTimeout: reliability.DefaultFragmentTimeout,
		maxFragments:    reliability.DefaultMaxFragments,
		retry:           reliability.DefaultRetryPolicy(),
		idleTimeout:     DefaultIdleTimeout,
		orderLimit:      reliability.DefaultOrderLimit,
		clock:           time.Now,
	}
}

// Option configures a Session.
type Option func(*options)

// WithID sets the connection identifier written into every outbound header.
func WithID(id uint32) Option {
	return func(o *options) { o.id = id }
}

// WithVersion sets the protocol version the session speaks. Inbound packets
// of any other version are dropped.
func WithVersion(v uint8) Option {
	return func(o *options) { o.version = v }
}

// WithMaxDatagram sets the fragmentation threshold, header included.
func WithMaxDatagram(n int) Option {
	return func(o *options) { o.maxDatagram = n }
}

// WithFragmentTimeout sets how long an incomplete fragmented message is kept.
func WithFragmentTimeout(d time.Duration) Option {
	return func(o *options) { o.fragmentTimeout = d }
}

// WithMaxFragments caps the number of fragments of one message, both sent
// and accepted.
func WithMaxFragments(n int) Option {
	return func(o *options) { o.maxFragments = n }
}

// WithRetryPolicy sets the retransmission policy of the reliable channels.
func WithRetryPolicy(p reliability.RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithIdleTimeout sets the inbound silence after which the peer is lost.
// Zero disables the check.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = d }
}

// WithOrderLimit caps the out-of-order buffer of the reliable-ordered channel.
func WithOrderLimit(n int) Option {
	return func(o *options) { o.orderLimit = n }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithMetrics reports traffic to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}
