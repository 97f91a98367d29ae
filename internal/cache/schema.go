package cache

// Fetch results are stored as JSON with an absolute expiry, so entries
// written with a short negative-result TTL age out independently of the
// regular ones.
const fetchCacheSchema = `
CREATE TABLE IF NOT EXISTS fetch_cache (
	cache_key TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	cached_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_cache_expires_at ON fetch_cache(expires_at);
`
