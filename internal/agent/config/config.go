// Package config handles configuration for the sync agent, including
// defaults, JSON overlay, environment variables and command-line flags.
package config

import (
	"time"

	"github.com/dmitrijs2005/photosync/internal/media"
)

// SourceConfig enables one logical media source and points it at a
// directory root.
type SourceConfig struct {
	Enabled bool
	Root    string
}

// Config is the immutable settings snapshot for one agent process. The
// scheduler reads it once per run start; nothing deeper in the transfer
// logic touches ambient configuration.
//
// Fields:
//   - ServerID: identity token of the paired server; empty means "accept
//     the first server found".
//   - APIKey: credential sent as X-API-Key. May also come from the pairing
//     record in the local database.
//   - DeviceName: reported to the server with each upload.
//   - HomeNetworks: network names (SSIDs) on which syncing is allowed.
//   - AllowUnknownNetwork: permit syncing on an unrecognized network, but
//     only when a manual server address is configured.
//   - ManualServerHost/ManualServerPort: optional fixed address that
//     bypasses discovery.
//   - Sources: per-source enable flags and directory roots.
//   - DatabaseDSN: sqlite DSN of the local ledger database.
//   - SyncInterval: period between automatic sync triggers.
//   - DiscoveryTimeout: upper bound on one mDNS search.
//   - HTTPTimeout: per-request client timeout; sized for large videos.
type Config struct {
	ServerID            string
	APIKey              string
	DeviceName          string
	HomeNetworks        []string
	AllowUnknownNetwork bool
	ManualServerHost    string
	ManualServerPort    int
	Sources             map[media.Source]SourceConfig
	DatabaseDSN         string
	SyncInterval        time.Duration
	DiscoveryTimeout    time.Duration
	HTTPTimeout         time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DeviceName = "photosync-agent"
	c.Sources = map[media.Source]SourceConfig{}
	c.DatabaseDSN = "photosync.db"
	c.SyncInterval = 15 * time.Minute
	c.DiscoveryTimeout = 10 * time.Second
	c.HTTPTimeout = 90 * time.Second
}

// EnabledSources returns the enabled sources in canonical order.
func (c *Config) EnabledSources() []media.Source {
	var out []media.Source
	for _, src := range media.Sources() {
		if sc, ok := c.Sources[src]; ok && sc.Enabled {
			out = append(out, src)
		}
	}
	return out
}

// SourceRoots returns the directory roots of the enabled sources.
func (c *Config) SourceRoots() map[media.Source]string {
	roots := make(map[media.Source]string)
	for _, src := range c.EnabledSources() {
		roots[src] = c.Sources[src].Root
	}
	return roots
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present), environment variables and command-line flags.
// Later sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
