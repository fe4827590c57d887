// Package cache provides an in-memory loading cache meant to sit in front of
// a fallback-protected loader.
//
// # Loading
//
// [Cache.Get] takes the key and the [loader.Loader] producing its value. On a
// miss the loader runs once, even when many goroutines miss the same key at
// the same time, and its value is stored. Errors are returned to every waiting
// caller and never cached, so the next request loads again:
//
//	users := cache.New[string, User](ctx, cache.WithExpireAfterWrite(time.Minute))
//	defer users.Close()
//	user, err := users.Get(ctx, "user:123", fallbackLoader)
//
// [Cache.AsLoader] turns the pair back into a plain Loader for code that
// accepts one.
//
// # Expiry and eviction
//
// Entries expire a fixed time after they were loaded ([WithExpireAfterWrite],
// five minutes by default) and optionally after not being read for a while
// ([WithExpireAfterAccess]). Expired entries are dropped when looked up and by
// a background sweep running every [WithExpiryCheck]. [WithMaximumSize] bounds
// the cache, evicting the least recently used entry first.
//
// # Single values
//
// [Single] caches exactly one value with the same semantics, for things like
// configuration documents which have no natural key.
//
// # Stats
//
// [Cache.Stats] reports requests, hits, misses, loads and evictions. A load
// shared by several callers counts as one load and one miss per caller.
package cache
