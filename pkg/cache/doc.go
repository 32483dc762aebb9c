// Package cache provides a generic, thread-safe LRU cache whose entries
// expire after a fixed time-to-live.
//
// The cache bounds memory two ways: the least recently used entry is evicted
// once capacity is exceeded, and entries older than the TTL are treated as
// absent and dropped on access.
//
// # Usage
//
//	seen := cache.NewTTLCache[string, struct{}](10_000, 72*time.Hour)
//
//	seen.Put("evt_123", struct{}{})
//	if _, ok := seen.Get("evt_123"); ok {
//		// duplicate delivery
//	}
//
// A zero TTL disables expiry. The clock can be replaced for tests with
// WithClock.
package cache
