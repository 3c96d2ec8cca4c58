// Package config handles configuration for the backup server, including
// defaults, JSON overlay, environment variables and command-line flags.
package config

import "os"

// Config holds runtime settings for the backup server.
//
// Fields:
//   - Port: TCP port of the HTTP API (and the port advertised over mDNS).
//   - StorageRoot: directory that receives the canonical file layout and
//     the credential files.
//   - DatabaseDSN: sqlite DSN of the backed-up-files index.
//   - ServerName: human-readable name advertised to agents; defaults to
//     the hostname.
//   - Announce: whether to advertise the service over mDNS.
type Config struct {
	Port        int
	StorageRoot string
	DatabaseDSN string
	ServerName  string
	Announce    bool
}

// LoadDefaults populates Config with sensible defaults.
func (c *Config) LoadDefaults() {
	c.Port = 9121
	c.StorageRoot = "./storage"
	c.DatabaseDSN = "backup.db"
	c.Announce = true
	if host, err := os.Hostname(); err == nil {
		c.ServerName = host
	} else {
		c.ServerName = "backup-server"
	}
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file, environment variables and command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
