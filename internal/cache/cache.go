// Package cache stores fetched evidence pages so repeated citations of
// the same source across rounds and revisions cost one retrieval.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache is the storage interface shared by the memory and disk layers.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key derives the cache key for a source URL.
func Key(url string) string {
	hash := sha256.Sum256([]byte(url))
	return "veridict:v1:" + hex.EncodeToString(hash[:])
}
