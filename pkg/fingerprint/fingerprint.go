// Package fingerprint computes content digests used to cheaply decide that a
// spreadsheet tab or row has not changed since the previous sync cycle.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// String creates a deterministic fingerprint of an arbitrary string.
func String(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}

// Row creates a fingerprint over one row's cells. The serialization is
// order-sensitive and whitespace-sensitive on purpose: a reordered or
// re-padded row counts as a change.
func Row(cells []string) string {
	return String(strings.Join(cells, "\x1f"))
}

// Rows creates a fingerprint over a whole tab's rows.
func Rows(rows [][]string) string {
	parts := make([]string, len(rows))
	for i, row := range rows {
		parts[i] = strings.Join(row, "\x1f")
	}
	return String(strings.Join(parts, "\x1e"))
}

// HasChanged compares two fingerprints to detect changes.
func HasChanged(oldFingerprint, newFingerprint string) bool {
	return oldFingerprint != newFingerprint
}

// Cache holds fingerprints in process memory, keyed by tab and by (tab, row).
// It is owned by the sync engine instance and is deliberately not persisted:
// a restart forces one full re-diff, which is an accepted idempotent cost.
type Cache struct {
	entries map[string]string
}

// NewCache creates an empty fingerprint cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]string)}
}

// Get returns the cached fingerprint for a key, or "".
func (c *Cache) Get(key string) string {
	return c.entries[key]
}

// Set stores a fingerprint for a key.
func (c *Cache) Set(key, fp string) {
	c.entries[key] = fp
}

// Unchanged reports whether the fingerprint for key matches fp.
func (c *Cache) Unchanged(key, fp string) bool {
	return c.entries[key] == fp
}
