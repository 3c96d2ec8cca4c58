// Package hashx computes content identifiers for media files.
//
// A content hash is the lowercase hex SHA-256 digest of the full byte
// stream. It is the durable identity of a file: the ledger, the transfer
// protocol and the server-side dedup index are all keyed by it.
package hashx

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// chunkSize bounds memory while hashing; files can exceed available RAM.
const chunkSize = 1024 * 1024

// Sum streams r through SHA-256 and returns the 64-character hex digest.
// If the stream cannot be read to completion an error is returned and the
// partial digest is discarded.
func Sum(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			// hash.Hash.Write never returns an error
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read during hashing: %w", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumFile opens path and hashes its contents.
func SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Sum(f)
}

// SumBytes hashes an in-memory buffer. Intended for small payloads and tests.
func SumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
