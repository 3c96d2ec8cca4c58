package config

import (
	"os"
	"strconv"
)

// parseEnv overlays cfg with BACKUP_* environment variables.
//
// Recognized variables:
//
//	BACKUP_PORT, BACKUP_STORAGE_ROOT, BACKUP_DATABASE_DSN,
//	BACKUP_SERVER_NAME, BACKUP_ANNOUNCE
func parseEnv(cfg *Config) {
	if v := os.Getenv("BACKUP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("BACKUP_STORAGE_ROOT"); v != "" {
		cfg.StorageRoot = v
	}
	if v := os.Getenv("BACKUP_DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("BACKUP_SERVER_NAME"); v != "" {
		cfg.ServerName = v
	}
	if v := os.Getenv("BACKUP_ANNOUNCE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Announce = b
		}
	}
}
