package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/photosync/internal/flagx"
	"github.com/dmitrijs2005/photosync/internal/media"
	"github.com/dmitrijs2005/photosync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations
// accept either strings like "10s" or integer nanoseconds.
type JsonConfig struct {
	ServerID            string         `json:"server_id"`
	APIKey              string         `json:"api_key"`
	DeviceName          string         `json:"device_name"`
	HomeNetworks        []string       `json:"home_networks"`
	AllowUnknownNetwork *bool          `json:"allow_unknown_network"`
	ManualServerHost    string         `json:"manual_server_host"`
	ManualServerPort    int            `json:"manual_server_port"`
	DatabaseDSN         string         `json:"database_dsn"`
	SyncInterval        timex.Duration `json:"sync_interval"`
	DiscoveryTimeout    timex.Duration `json:"discovery_timeout"`
	HTTPTimeout         timex.Duration `json:"http_timeout"`

	Sources map[string]struct {
		Enabled bool   `json:"enabled"`
		Root    string `json:"root"`
	} `json:"sources"`
}

// parseJson overlays cfg with values from the file given via -c/-config.
// Missing flag means no JSON layer; read or unmarshal errors panic, the
// process cannot run on a half-applied configuration.
func parseJson(cfg *Config) {
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

	if jc.ServerID != "" {
		cfg.ServerID = jc.ServerID
	}
	if jc.APIKey != "" {
		cfg.APIKey = jc.APIKey
	}
	if jc.DeviceName != "" {
		cfg.DeviceName = jc.DeviceName
	}
	if len(jc.HomeNetworks) > 0 {
		cfg.HomeNetworks = jc.HomeNetworks
	}
	if jc.AllowUnknownNetwork != nil {
		cfg.AllowUnknownNetwork = *jc.AllowUnknownNetwork
	}
	if jc.ManualServerHost != "" {
		cfg.ManualServerHost = jc.ManualServerHost
	}
	if jc.ManualServerPort != 0 {
		cfg.ManualServerPort = jc.ManualServerPort
	}
	if jc.DatabaseDSN != "" {
		cfg.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.SyncInterval.Duration != 0 {
		cfg.SyncInterval = time.Duration(jc.SyncInterval.Duration)
	}
	if jc.DiscoveryTimeout.Duration != 0 {
		cfg.DiscoveryTimeout = time.Duration(jc.DiscoveryTimeout.Duration)
	}
	if jc.HTTPTimeout.Duration != 0 {
		cfg.HTTPTimeout = time.Duration(jc.HTTPTimeout.Duration)
	}

	for name, sc := range jc.Sources {
		src, err := media.ParseSource(name)
		if err != nil {
			panic(err)
		}
		cfg.Sources[src] = SourceConfig{Enabled: sc.Enabled, Root: sc.Root}
	}
}
