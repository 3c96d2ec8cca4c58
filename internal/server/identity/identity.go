// Package identity manages the server's long-lived credentials: the API
// key agents must present and the stable identity token advertised over
// mDNS. Both live as plain files under the storage root so that wiping the
// directory resets the pairing.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	apiKeyFile   = ".api_key"
	serverIDFile = ".server_id"
)

// Credentials is the server's pairing material.
type Credentials struct {
	APIKey   string
	ServerID string
}

// LoadOrCreate reads the credential files under dir, generating and
// persisting any that are missing. The first start of a fresh server mints
// both; later starts always return the same values.
func LoadOrCreate(dir string) (*Credentials, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}

	key, err := loadOrCreateValue(filepath.Join(dir, apiKeyFile), newAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load API key: %w", err)
	}
	id, err := loadOrCreateValue(filepath.Join(dir, serverIDFile), uuid.NewString)
	if err != nil {
		return nil, fmt.Errorf("failed to load server identity: %w", err)
	}

	return &Credentials{APIKey: key, ServerID: id}, nil
}

func loadOrCreateValue(path string, generate func() string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	v := generate()
	if err := os.WriteFile(path, []byte(v+"\n"), 0o600); err != nil {
		return "", err
	}
	return v, nil
}

func newAPIKey() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
