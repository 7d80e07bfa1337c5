package dispatch

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/1ureka/rtnet/internal/metrics"
	"github.com/1ureka/rtnet/internal/session"
)

// Tuning defaults.
const (
	DefaultInboxSize    = 256
	DefaultOutboxSize   = 256
	DefaultEventBuffer  = 1024
	DefaultTickInterval = 20 * time.Millisecond
	DefaultMaxPeers     = 1024
	DefaultPeerRate     = 500 // datagrams per second
	DefaultPeerBurst    = 100
)

type options struct {
	inboxSize    int
	outboxSize   int
	eventBuffer  int
	tickInterval time.Duration
	maxPeers     int
	peerRate     rate.Limit
	peerBurst    int
	sessionOpts  []session.Option
	metrics      *metrics.Metrics
}

func defaultOptions() options {
	return options{
		inboxSize:    DefaultInboxSize,
		outboxSize:   DefaultOutboxSize,
		eventBuffer:  DefaultEventBuffer,
		tickInterval: DefaultTickInterval,
		maxPeers:     DefaultMaxPeers,
		peerRate:     DefaultPeerRate,
		peerBurst:    DefaultPeerBurst,
	}
}

// Option configures a Bridge.
type Option func(*options)

// WithInboxSize sets how many inbound datagrams may wait for one peer.
func WithInboxSize(n int) Option {
	return func(o *options) { o.inboxSize = n }
}

// WithOutboxSize sets how many send requests may wait for one peer.
func WithOutboxSize(n int) Option {
	return func(o *options) { o.outboxSize = n }
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(o *options) { o.eventBuffer = n }
}

// WithTickInterval sets how often each session's Tick runs.
func WithTickInterval(d time.Duration) Option {
	return func(o *options) { o.tickInterval = d }
}

// WithMaxPeers caps the number of concurrent sessions. Datagrams from new
// endpoints beyond the cap are dropped.
func WithMaxPeers(n int) Option {
	return func(o *options) { o.maxPeers = n }
}

// WithPeerRate limits inbound datagrams per peer. A non-positive limit
// disables limiting.
func WithPeerRate(limit float64, burst int) Option {
	return func(o *options) {
		if limit <= 0 {
			o.peerRate = rate.Inf
		} else {
			o.peerRate = rate.Limit(limit)
		}
		o.peerBurst = burst
	}
}

// WithSessionOptions sets the options every peer session is opened with.
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *options) { o.sessionOpts = append(o.sessionOpts, opts...) }
}

// WithMetrics records bridge and session activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}
