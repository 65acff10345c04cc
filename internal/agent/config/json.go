package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/fieldline/casesync/internal/flagx"
	"github.com/fieldline/casesync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "15s"
// or as integer nanoseconds. After parsing, values are copied into the
// runtime Config (which uses time.Duration).
type JsonConfig struct {
	ServerEndpointAddr       string         `json:"server_endpoint_addr"`
	DatabaseDSN              string         `json:"database_dsn"`
	CredentialsFile          string         `json:"credentials_file"`
	BandwidthBytesPerSec     int64          `json:"bandwidth_bytes_per_sec"`
	ChunkTarget              timex.Duration `json:"chunk_target"`
	ChunkRetryMax            int            `json:"chunk_retry_max"`
	ChunkRetryBase           timex.Duration `json:"chunk_retry_base"`
	ConnFailureLimit         int            `json:"conn_failure_limit"`
	OnlineCheckInterval      timex.Duration `json:"online_check_interval"`
	NotificationPollInterval timex.Duration `json:"notification_poll_interval"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// The file path comes from the -c or -config flag via flagx.JsonConfigFlags;
// when no path is given, nothing is loaded. Only fields present in the file
// override the current values. Read or unmarshal errors panic, matching the
// fail-fast startup behavior of parseFlags.
func parseJson(cfg *Config) {
	// Resolve file path from flags.
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerEndpointAddr != "" {
		cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	}
	if jc.DatabaseDSN != "" {
		cfg.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.CredentialsFile != "" {
		cfg.CredentialsFile = jc.CredentialsFile
	}
	if jc.BandwidthBytesPerSec > 0 {
		cfg.BandwidthBytesPerSec = jc.BandwidthBytesPerSec
	}
	if jc.ChunkTarget.Duration > 0 {
		cfg.ChunkTarget = time.Duration(jc.ChunkTarget.Duration)
	}
	if jc.ChunkRetryMax > 0 {
		cfg.ChunkRetryMax = jc.ChunkRetryMax
	}
	if jc.ChunkRetryBase.Duration > 0 {
		cfg.ChunkRetryBase = time.Duration(jc.ChunkRetryBase.Duration)
	}
	if jc.ConnFailureLimit > 0 {
		cfg.ConnFailureLimit = jc.ConnFailureLimit
	}
	if jc.OnlineCheckInterval.Duration > 0 {
		cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
	}
	if jc.NotificationPollInterval.Duration > 0 {
		cfg.NotificationPollInterval = time.Duration(jc.NotificationPollInterval.Duration)
	}
}
