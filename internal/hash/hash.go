// Package hash provides the SHA-256 content addressing used to key the
// download registry (§4.5) and to verify occupants during reconciliation
// (§4.9). Adapted from the teacher's internal/hash/sha256 package.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Bytes returns the lowercase hex SHA-256 digest of data.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// File streams the file at path through SHA-256 without loading it fully
// into memory, for callers that can open their own plain filesystem paths.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return Reader(f)
}

// Reader streams r through SHA-256 without buffering it fully into memory,
// used when reconciliation hashes an occupant or stray file already opened
// through a path-safety-checked handle (e.g. blobstore.Store.Open) rather
// than a plain path File could re-open unchecked.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash reader: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Short returns the first 8 hex digits of a digest, used in console traces
// (§4.9's `<sha8>` format).
func Short(sha256hex string) string {
	if len(sha256hex) < 8 {
		return sha256hex
	}
	return sha256hex[:8]
}
