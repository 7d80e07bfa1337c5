// Package metrics defines the Prometheus collectors of the protocol stack.
//
// All methods are safe on a nil *Metrics, so components can take an optional
// collector without checking for it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "rtnet").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics holds the collectors.
type Metrics struct {
	packetsSent     *prometheus.CounterVec
	packetsReceived *prometheus.CounterVec
	packetsDropped  *prometheus.CounterVec
	bytesSent       prometheus.Counter
	bytesReceived   prometheus.Counter
	retransmits     prometheus.Counter
	reassembled     prometheus.Counter
	fragmentsEvict  prometheus.Counter
	sessionsActive  prometheus.Gauge
	sessionsLost    prometheus.Counter
	gatewayFrames   *prometheus.CounterVec
	gamesActive     prometheus.Gauge
	serversActive   prometheus.Gauge
}

// New registers the collectors. Registering twice on the same registry
// panics, as promauto does.
func New(opts ...Option) *Metrics {
	config := Config{
		Namespace: "rtnet",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}

	return &Metrics{
		packetsSent:     counterVec("packets_sent_total", "UDP protocol packets sent, by channel", "channel"),
		packetsReceived: counterVec("packets_received_total", "UDP protocol packets accepted, by channel", "channel"),
		packetsDropped:  counterVec("packets_dropped_total", "Inbound datagrams dropped, by reason", "reason"),
		bytesSent:       counter("bytes_sent_total", "Datagram bytes written to transports"),
		bytesReceived:   counter("bytes_received_total", "Datagram bytes read from transports"),
		retransmits:     counter("retransmits_total", "Reliable packets sent again after an ack timeout"),
		reassembled:     counter("fragments_reassembled_total", "Fragmented messages reassembled"),
		fragmentsEvict:  counter("fragments_evicted_total", "Incomplete fragmented messages dropped on timeout"),
		sessionsActive:  gauge("sessions_active", "Open protocol sessions"),
		sessionsLost:    counter("sessions_lost_total", "Sessions whose peer was considered lost"),
		gatewayFrames:   counterVec("gateway_frames_total", "TCP session frames handled by the gateway, by type", "type"),
		gamesActive:     gauge("gateway_games_active", "Games running on registered game servers"),
		serversActive:   gauge("gateway_servers_active", "Registered game servers"),
	}
}

func (m *Metrics) PacketSent(channel string, n int) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(channel).Inc()
	m.bytesSent.Add(float64(n))
}

func (m *Metrics) PacketReceived(channel string) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(channel).Inc()
}

// DatagramReceived counts raw inbound bytes, before any validation.
func (m *Metrics) DatagramReceived(n int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(float64(n))
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.packetsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Retransmit() {
	if m == nil {
		return
	}
	m.retransmits.Inc()
}

func (m *Metrics) Reassembled() {
	if m == nil {
		return
	}
	m.reassembled.Inc()
}

func (m *Metrics) FragmentsEvicted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.fragmentsEvict.Add(float64(n))
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) SessionLost() {
	if m == nil {
		return
	}
	m.sessionsLost.Inc()
}

func (m *Metrics) GatewayFrame(typ string) {
	if m == nil {
		return
	}
	m.gatewayFrames.WithLabelValues(typ).Inc()
}

func (m *Metrics) SetGamesActive(n int) {
	if m == nil {
		return
	}
	m.gamesActive.Set(float64(n))
}

func (m *Metrics) SetServersActive(n int) {
	if m == nil {
		return
	}
	m.serversActive.Set(float64(n))
}
