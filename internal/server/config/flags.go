package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/photosync/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-p int      HTTP port
//	-r string   storage root directory
//	-d string   sqlite DSN
//	-n string   advertised server name
//
// The function filters os.Args to only the flags it knows about, using
// flagx.FilterArgs, to avoid interference with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-p", "-r", "-d", "-n"})

	fs := flag.NewFlagSet("server", flag.ContinueOnError)

	fs.IntVar(&config.Port, "p", config.Port, "HTTP port")
	fs.StringVar(&config.StorageRoot, "r", config.StorageRoot, "storage root directory")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.ServerName, "n", config.ServerName, "advertised server name")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
