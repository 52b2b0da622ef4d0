// Package sha256 provides SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// urlHashLen truncates URL digests to match the stored url_hash width.
const urlHashLen = 16

// Hasher computes hex digests for deduplication.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a full hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashURL returns the truncated digest used as a product's url_hash.
// The empty string hashes to the empty string so callers can treat a
// missing URL as "no identity" rather than a colliding constant.
func (h *Hasher) HashURL(url string) string {
	if url == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:urlHashLen]
}
