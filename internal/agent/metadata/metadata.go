// Package metadata is a small key-value store inside the agent database.
// It holds the pairing record: the server identity token and the API key
// obtained during pairing. The server address is deliberately never stored;
// it is rediscovered at the start of every run.
package metadata

import "context"

// Well-known keys.
const (
	KeyServerID = "server_id"
	KeyAPIKey   = "api_key"
)

type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
