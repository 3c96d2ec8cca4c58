package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/photosync/internal/flagx"
)

// JsonConfig is the intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into the
// runtime Config.
type JsonConfig struct {
	Port        *int    `json:"port"`
	StorageRoot *string `json:"storage_root"`
	DatabaseDSN *string `json:"database_dsn"`
	ServerName  *string `json:"server_name"`
	Announce    *bool   `json:"announce"`
}

// parseJson loads configuration values from the JSON file named by the -c
// or -config command-line flags. If no flag is set, no file is loaded.
// Unreadable or invalid files panic: a present but broken config file is a
// startup error, not something to silently skip.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.Port != nil {
		config.Port = *c.Port
	}
	if c.StorageRoot != nil {
		config.StorageRoot = *c.StorageRoot
	}
	if c.DatabaseDSN != nil {
		config.DatabaseDSN = *c.DatabaseDSN
	}
	if c.ServerName != nil {
		config.ServerName = *c.ServerName
	}
	if c.Announce != nil {
		config.Announce = *c.Announce
	}
}
