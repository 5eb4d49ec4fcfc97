package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/peerkeeper/internal/flagx"
)

// Duration reads either a Go duration string ("10s") or integer nanoseconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

// JsonConfig is the on-disk shape of the config file. Absent keys keep the
// value they had before the file was read.
type JsonConfig struct {
	DataDir        string   `json:"data_dir"`
	ListenAddr     string   `json:"listen_addr"`
	AdvertiseAddr  string   `json:"advertise_addr"`
	Identities     []string `json:"identities"`
	LogLevel       string   `json:"log_level"`
	LogFormat      string   `json:"log_format"`
	TokenTTL       Duration `json:"token_ttl"`
	PingInterval   Duration `json:"ping_interval"`
	SendTimeout    Duration `json:"send_timeout"`
	FanOutLimit    int      `json:"fan_out_limit"`
	BlobBackend    string   `json:"blob_backend"`
	S3AccessKey    string   `json:"s3_access_key"`
	S3SecretKey    string   `json:"s3_secret_key"`
	S3Bucket       string   `json:"s3_bucket"`
	S3Region       string   `json:"s3_region"`
	S3BaseEndpoint string   `json:"s3_base_endpoint"`
}

func parseJson(config *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&config.DataDir, c.DataDir)
	setString(&config.ListenAddr, c.ListenAddr)
	setString(&config.AdvertiseAddr, c.AdvertiseAddr)
	if len(c.Identities) > 0 {
		config.Identities = c.Identities
	}
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.LogFormat, c.LogFormat)
	setDuration(&config.TokenTTL, c.TokenTTL)
	setDuration(&config.PingInterval, c.PingInterval)
	setDuration(&config.SendTimeout, c.SendTimeout)
	if c.FanOutLimit != 0 {
		config.FanOutLimit = c.FanOutLimit
	}
	setString(&config.BlobBackend, c.BlobBackend)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
