package models

import "time"

// CacheEntry stores a cached backend response.
type CacheEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Response    Response  `json:"response"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries   int64   `json:"entries"`
	Capacity  int64   `json:"capacity"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Expired   int64   `json:"expired"`
	HitRate   float64 `json:"hit_rate"`
}
