// Package config builds the node configuration from defaults, an optional
// JSON file and command-line flags, in that order of precedence.
package config

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/peerkeeper/internal/netx"
)

// Blob backends.
const (
	BlobFS = "fs"
	BlobS3 = "s3"
)

// Config holds runtime settings for a peerkeeper node.
//
// ListenAddr is where the peer transport binds; AdvertiseAddr is the
// host:port other peers dial and defaults to ListenAddr. TokenTTL bounds the
// lifetime of the per-call peer tokens.
type Config struct {
	DataDir       string
	ListenAddr    string
	AdvertiseAddr string
	// Identities are the public ids unlocked at startup.
	Identities []string

	LogLevel  string
	LogFormat string

	TokenTTL     time.Duration
	PingInterval time.Duration
	SendTimeout  time.Duration
	FanOutLimit  int

	BlobBackend    string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
}

// LoadDefaults populates c with development defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = "./data"
	c.ListenAddr = "127.0.0.1:7364"
	c.AdvertiseAddr = ""
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.TokenTTL = time.Minute
	c.PingInterval = 10 * time.Second
	c.SendTimeout = 5 * time.Second
	c.FanOutLimit = 16
	c.BlobBackend = BlobFS
	c.S3Region = "us-east-1"
}

// Advertise returns the address announced to peers.
func (c *Config) Advertise() string {
	if c.AdvertiseAddr != "" {
		return c.AdvertiseAddr
	}
	return c.ListenAddr
}

// Validate rejects settings the node cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir is empty")
	}
	if _, err := netx.ParsePeerAddr(netx.JoinPeerAddr("node", c.Advertise())); err != nil {
		return fmt.Errorf("advertise address: %w", err)
	}
	if c.TokenTTL <= 0 || c.PingInterval <= 0 || c.SendTimeout <= 0 {
		return fmt.Errorf("durations must be positive")
	}
	if c.FanOutLimit <= 0 {
		return fmt.Errorf("fan-out limit must be positive")
	}
	switch c.BlobBackend {
	case BlobFS:
	case BlobS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("s3 blob backend needs a bucket")
		}
	default:
		return fmt.Errorf("unknown blob backend %q", c.BlobBackend)
	}
	return nil
}

// LoadConfig builds a Config from defaults, the JSON file named by -c or
// -config in args, and the flags in args.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
