package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/photosync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   manual server host (bypasses discovery)
//	-p int      manual server port
//	-d string   device name reported with uploads
//	-k string   API key
//	-i int      sync interval in minutes
//
// The function filters os.Args to only the flags it knows about, using
// flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-p", "-d", "-k", "-i"})

	fs := flag.NewFlagSet("agent", flag.ContinueOnError)

	fs.StringVar(&cfg.ManualServerHost, "a", cfg.ManualServerHost, "manual server host")
	fs.IntVar(&cfg.ManualServerPort, "p", cfg.ManualServerPort, "manual server port")
	fs.StringVar(&cfg.DeviceName, "d", cfg.DeviceName, "device name")
	fs.StringVar(&cfg.APIKey, "k", cfg.APIKey, "API key")
	syncInterval := fs.Int("i", int(cfg.SyncInterval.Minutes()), "sync interval (in minutes)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// only overwrite the interval when -i was actually passed; the default
	// round-trip through minutes would truncate sub-minute values coming
	// from JSON or the environment
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "i" {
			cfg.SyncInterval = time.Duration(*syncInterval) * time.Minute
		}
	})
}
