package embedcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Key derives the cache key for a text: lowercased, whitespace runs collapsed
// to single spaces, trimmed, then SHA-256 truncated to 16 bytes (32 hex
// chars). Texts that differ only in casing or spacing share one entry.
func Key(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}
