// Package config holds the YAML configuration shared by the CLI commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/1ureka/rtnet/internal/dispatch"
	"github.com/1ureka/rtnet/internal/metrics"
	"github.com/1ureka/rtnet/internal/protocol"
	"github.com/1ureka/rtnet/internal/reliability"
	"github.com/1ureka/rtnet/internal/session"
)

// Store backends for the gateway game registry.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config is the full set of tunables. Zero values are not meaningful; start
// from Default and overlay a file and flags.
type Config struct {
	UDPAddr     string `yaml:"udp_addr"`
	HTTPAddr    string `yaml:"http_addr"`
	GatewayAddr string `yaml:"gateway_addr"`
	LogLevel    string `yaml:"log_level"`

	ProtocolVersion  uint8         `yaml:"protocol_version"`
	MaxDatagram      int           `yaml:"max_datagram"`
	FragmentTimeout  time.Duration `yaml:"fragment_timeout"`
	MaxFragments     int           `yaml:"max_fragments"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
	MaxRetryInterval time.Duration `yaml:"max_retry_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	TickInterval     time.Duration `yaml:"tick_interval"`

	InboxSize int     `yaml:"inbox_size"`
	MaxPeers  int     `yaml:"max_peers"`
	PeerRate  float64 `yaml:"peer_rate"`
	PeerBurst int     `yaml:"peer_burst"`

	SignalPIN string `yaml:"signal_pin"`

	Store        string `yaml:"store"`
	StorePath    string `yaml:"store_path"`
	GameCapacity uint8  `yaml:"game_capacity"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	retry := reliability.DefaultRetryPolicy()
	return Config{
		UDPAddr:     ":4242",
		HTTPAddr:    ":8080",
		GatewayAddr: ":4243",
		LogLevel:    "info",

		ProtocolVersion:  protocol.Version,
		MaxDatagram:      session.DefaultMaxDatagram,
		FragmentTimeout:  reliability.DefaultFragmentTimeout,
		MaxFragments:     reliability.DefaultMaxFragments,
		RetryInterval:    retry.Interval,
		MaxRetryInterval: retry.MaxInterval,
		MaxRetries:       retry.MaxRetries,
		IdleTimeout:      session.DefaultIdleTimeout,
		TickInterval:     dispatch.DefaultTickInterval,

		InboxSize: dispatch.DefaultInboxSize,
		MaxPeers:  dispatch.DefaultMaxPeers,
		PeerRate:  dispatch.DefaultPeerRate,
		PeerBurst: dispatch.DefaultPeerBurst,

		Store:        StoreMemory,
		StorePath:    "storage/games.db",
		GameCapacity: 8,
	}
}

// Load reads the YAML file at path over Default. Keys missing from the file
// keep their default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the protocol cannot work with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.ProtocolVersion != 0, "protocol_version must be positive")
	check(c.MaxDatagram >= protocol.HeaderSize+protocol.FragmentHeaderSize+1,
		"max_datagram %d is below %d", c.MaxDatagram, protocol.HeaderSize+protocol.FragmentHeaderSize+1)
	check(c.MaxDatagram <= protocol.HeaderSize+protocol.MaxPayloadSize,
		"max_datagram %d exceeds %d", c.MaxDatagram, protocol.HeaderSize+protocol.MaxPayloadSize)
	check(c.FragmentTimeout > 0, "fragment_timeout must be positive")
	check(c.MaxFragments > 0 && c.MaxFragments <= 0xFFFF, "max_fragments %d out of range", c.MaxFragments)
	check(c.RetryInterval > 0, "retry_interval must be positive")
	check(c.MaxRetryInterval >= c.RetryInterval, "max_retry_interval is below retry_interval")
	check(c.MaxRetries > 0, "max_retries must be positive")
	check(c.IdleTimeout >= 0, "idle_timeout must not be negative")
	check(c.TickInterval > 0, "tick_interval must be positive")
	check(c.InboxSize > 0, "inbox_size must be positive")
	check(c.MaxPeers > 0, "max_peers must be positive")
	check(c.PeerRate >= 0, "peer_rate must not be negative")
	check(c.PeerBurst > 0 || c.PeerRate == 0, "peer_burst must be positive")
	check(c.Store == StoreMemory || c.Store == StoreSQLite, "unknown store %q", c.Store)
	check(c.Store != StoreSQLite || c.StorePath != "", "store_path is required for sqlite")
	check(c.GameCapacity > 0, "game_capacity must be positive")

	return errors.Join(errs...)
}

// RetryPolicy returns the retransmission policy.
func (c Config) RetryPolicy() reliability.RetryPolicy {
	return reliability.RetryPolicy{
		Interval:    c.RetryInterval,
		MaxInterval: c.MaxRetryInterval,
		MaxRetries:  c.MaxRetries,
	}
}

// SessionOptions returns the session options the configuration implies.
func (c Config) SessionOptions(m *metrics.Metrics) []session.Option {
	return []session.Option{
		session.WithVersion(c.ProtocolVersion),
		session.WithMaxDatagram(c.MaxDatagram),
		session.WithFragmentTimeout(c.FragmentTimeout),
		session.WithMaxFragments(c.MaxFragments),
		session.WithRetryPolicy(c.RetryPolicy()),
		session.WithIdleTimeout(c.IdleTimeout),
		session.WithMetrics(m),
	}
}

// BridgeOptions returns the dispatch options the configuration implies,
// including the session options.
func (c Config) BridgeOptions(m *metrics.Metrics) []dispatch.Option {
	return []dispatch.Option{
		dispatch.WithInboxSize(c.InboxSize),
		dispatch.WithMaxPeers(c.MaxPeers),
		dispatch.WithPeerRate(c.PeerRate, c.PeerBurst),
		dispatch.WithTickInterval(c.TickInterval),
		dispatch.WithMetrics(m),
		dispatch.WithSessionOptions(c.SessionOptions(m)...),
	}
}
