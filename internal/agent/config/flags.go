package config

import (
	"flag"
	"os"
	"time"

	"github.com/fieldline/casesync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the dispatch server (default from Config)
//	-d string   path to the local SQLite database
//	-b int      estimated uplink bandwidth in bytes per second
//	-i int      online check interval in seconds
//	-n int      notification poll interval in seconds
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	// Filter args to include only those handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-b", "-i", "-n"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "base URL of the dispatch server")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "path to the local database")
	fs.Int64Var(&cfg.BandwidthBytesPerSec, "b", cfg.BandwidthBytesPerSec, "estimated uplink bandwidth (bytes per second)")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	notificationPoll := fs.Int("n", int(cfg.NotificationPollInterval.Seconds()), "notification poll interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
	cfg.NotificationPollInterval = time.Duration(*notificationPoll) * time.Second
}
