// Package cache provides a bounded least-recently-used cache with an
// eviction callback.
//
// The session manager keeps live sessions in an LRU keyed by session ID so
// that the number of open transports never exceeds the configured maximum.
// When a new session would overflow the cache, the oldest session is pushed
// out and its transport is closed from the callback.
//
//	sessions, _ := cache.New[string, *Session](1000, func(id string, s *Session) {
//	    go s.close("evicted")
//	})
package cache
