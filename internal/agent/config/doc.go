// Package config loads runtime configuration for the casesync agent.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the dispatch server
//	-d string   path to the local SQLite database
//	-b int      estimated uplink bandwidth (bytes per second)
//	-i int      online status check interval (seconds)
//	-n int      notification poll interval (seconds)
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "15s" or integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "http://127.0.0.1:9025",
//	  "database_dsn": "casesync.db",
//	  "bandwidth_bytes_per_sec": 16384,
//	  "chunk_target": "5s",
//	  "online_check_interval": "15s",
//	  "notification_poll_interval": "1m"
//	}
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
