package cache

import (
	"crypto/md5" //nolint:gosec // content addressing, not authentication
	"encoding/hex"
)

// Fingerprint returns the content hash of raw image bytes used as the cache
// key. MD5 is deliberate: 128-bit, fast, and deterministic. The cache only
// needs "same bytes, same answer", not adversarial collision resistance.
func Fingerprint(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
