package config

import "time"

// Config holds runtime settings for the casesync agent.
//
// Units: intervals are time.Duration; BandwidthBytesPerSec is an estimate of
// sustained uplink throughput used to derive the transfer chunk size.
type Config struct {
	ServerEndpointAddr       string
	DatabaseDSN              string
	CredentialsFile          string
	BandwidthBytesPerSec     int64
	ChunkTarget              time.Duration
	ChunkRetryMax            int
	ChunkRetryBase           time.Duration
	ConnFailureLimit         int
	OnlineCheckInterval      time.Duration
	NotificationPollInterval time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://127.0.0.1:9025"
	c.DatabaseDSN = "casesync.db"
	c.CredentialsFile = "casesync_creds.json"
	c.BandwidthBytesPerSec = 16384
	c.ChunkTarget = 5 * time.Second
	c.ChunkRetryMax = 3
	c.ChunkRetryBase = time.Second
	c.ConnFailureLimit = 5
	c.OnlineCheckInterval = 15 * time.Second
	c.NotificationPollInterval = time.Minute
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
