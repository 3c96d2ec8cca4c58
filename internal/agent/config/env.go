package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/photosync/internal/media"
)

// parseEnv overlays cfg with PHOTOSYNC_* environment variables.
//
// Recognized variables:
//
//	PHOTOSYNC_SERVER_ID, PHOTOSYNC_API_KEY, PHOTOSYNC_DEVICE_NAME,
//	PHOTOSYNC_HOME_NETWORKS (comma-separated), PHOTOSYNC_ALLOW_UNKNOWN_NETWORK,
//	PHOTOSYNC_SERVER_HOST, PHOTOSYNC_SERVER_PORT, PHOTOSYNC_DATABASE_DSN,
//	PHOTOSYNC_SYNC_INTERVAL, PHOTOSYNC_SOURCE_<NAME> (root path; presence enables)
func parseEnv(cfg *Config) {
	if v := os.Getenv("PHOTOSYNC_SERVER_ID"); v != "" {
		cfg.ServerID = v
	}
	if v := os.Getenv("PHOTOSYNC_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("PHOTOSYNC_DEVICE_NAME"); v != "" {
		cfg.DeviceName = v
	}
	if v := os.Getenv("PHOTOSYNC_HOME_NETWORKS"); v != "" {
		var nets []string
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				nets = append(nets, n)
			}
		}
		cfg.HomeNetworks = nets
	}
	if v := os.Getenv("PHOTOSYNC_ALLOW_UNKNOWN_NETWORK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AllowUnknownNetwork = b
		}
	}
	if v := os.Getenv("PHOTOSYNC_SERVER_HOST"); v != "" {
		cfg.ManualServerHost = v
	}
	if v := os.Getenv("PHOTOSYNC_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.ManualServerPort = p
		}
	}
	if v := os.Getenv("PHOTOSYNC_DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("PHOTOSYNC_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SyncInterval = d
		}
	}

	for _, src := range media.Sources() {
		key := "PHOTOSYNC_SOURCE_" + strings.ToUpper(string(src))
		if v := os.Getenv(key); v != "" {
			cfg.Sources[src] = SourceConfig{Enabled: true, Root: v}
		}
	}
}
