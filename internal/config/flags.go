package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/peerkeeper/internal/flagx"
)

var knownFlags = []string{
	"-d", "-a", "-p", "-u", "-l", "-f", "-t", "-i", "-w", "-n", "-b",
	"-s3-access-key", "-s3-secret-key", "-s3-bucket", "-s3-region", "-s3-endpoint",
}

// parseFlags overlays the node flags found in args.
//
//	-d string     data directory
//	-a string     listen address (host:port)
//	-p string     advertised address (host:port)
//	-u string     comma-separated identities to unlock
//	-l string     log level (debug, info, warn, error)
//	-f string     log format (text, json)
//	-t duration   peer token lifetime
//	-i duration   peer ping interval
//	-w duration   per-send timeout
//	-n int        concurrent sends per fan-out
//	-b string     blob backend (fs, s3)
//	-s3-*         S3 credentials, bucket, region and endpoint
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("node", flag.ContinueOnError)

	fs.StringVar(&config.DataDir, "d", config.DataDir, "data directory")
	fs.StringVar(&config.ListenAddr, "a", config.ListenAddr, "listen address")
	fs.StringVar(&config.AdvertiseAddr, "p", config.AdvertiseAddr, "advertised address")
	identities := fs.String("u", strings.Join(config.Identities, ","), "identities to unlock")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.LogFormat, "f", config.LogFormat, "log format")
	fs.DurationVar(&config.TokenTTL, "t", config.TokenTTL, "peer token lifetime")
	fs.DurationVar(&config.PingInterval, "i", config.PingInterval, "peer ping interval")
	fs.DurationVar(&config.SendTimeout, "w", config.SendTimeout, "send timeout")
	fs.IntVar(&config.FanOutLimit, "n", config.FanOutLimit, "concurrent sends per fan-out")
	fs.StringVar(&config.BlobBackend, "b", config.BlobBackend, "blob backend")

	fs.StringVar(&config.S3AccessKey, "s3-access-key", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "s3-secret-key", config.S3SecretKey, "S3 secret key")
	fs.StringVar(&config.S3Bucket, "s3-bucket", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "s3-region", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "s3-endpoint", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	config.Identities = splitList(*identities)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
