package scraper

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// BusinessID derives the deterministic identity of a location from its
// normalized business name and street address. Identical inputs always
// yield the same id, which is what makes storage upserts idempotent.
func BusinessID(name, address string) string {
	key := normalizeIDPart(name) + "|" + normalizeIDPart(address)
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

func normalizeIDPart(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
