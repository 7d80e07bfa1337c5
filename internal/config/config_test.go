package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtnet.yml")
	data := "udp_addr: \":9000\"\nretry_interval: 50ms\nmax_retries: 3\nstore: sqlite\nstore_path: /tmp/g.db\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.UDPAddr != ":9000" || cfg.RetryInterval != 50*time.Millisecond || cfg.MaxRetries != 3 {
		t.Errorf("loaded %+v", cfg)
	}
	if cfg.Store != StoreSQLite || cfg.StorePath != "/tmp/g.db" {
		t.Errorf("store = %q %q", cfg.Store, cfg.StorePath)
	}
	if cfg.MaxDatagram != Default().MaxDatagram {
		t.Errorf("unset key lost its default: max_datagram = %d", cfg.MaxDatagram)
	}
	if p := cfg.RetryPolicy(); p.Interval != 50*time.Millisecond || p.MaxRetries != 3 {
		t.Errorf("RetryPolicy = %+v", p)
	}
	if len(cfg.SessionOptions(nil)) == 0 || len(cfg.BridgeOptions(nil)) == 0 {
		t.Error("no options derived")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtnet.yml")
	os.WriteFile(path, []byte("max_datagramm: 100\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"tiny datagram", func(c *Config) { c.MaxDatagram = 20 }, "max_datagram"},
		{"huge datagram", func(c *Config) { c.MaxDatagram = 1 << 20 }, "max_datagram"},
		{"no retries", func(c *Config) { c.MaxRetries = 0 }, "max_retries"},
		{"backoff cap", func(c *Config) { c.MaxRetryInterval = time.Millisecond }, "max_retry_interval"},
		{"fragments", func(c *Config) { c.MaxFragments = 70000 }, "max_fragments"},
		{"store", func(c *Config) { c.Store = "redis" }, "unknown store"},
		{"sqlite path", func(c *Config) { c.Store, c.StorePath = StoreSQLite, "" }, "store_path"},
		{"version", func(c *Config) { c.ProtocolVersion = 0 }, "protocol_version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
