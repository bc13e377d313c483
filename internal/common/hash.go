package common

import "github.com/cespare/xxhash/v2"

// HashURL hashes a canonical url. XXH64 with a zero seed, so values are stable
// across restarts and shared with every process using the same cache.
func HashURL(canonicalURL string) uint64 {
	return xxhash.Sum64String(canonicalURL)
}

func HashContent(body []byte) uint64 {
	return xxhash.Sum64(body)
}

func HashString(s string) uint64 {
	return xxhash.Sum64String(s)
}
