package filters

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/fmuoria/cv-triage/internal/models"
)

// Cache memoizes pipeline results. Implementations must be safe for
// concurrent use.
type Cache interface {
	Get(key string) (Result, bool)
	Set(key string, result Result)
}

// RistrettoCache is a bounded TTL cache of pipeline results
type RistrettoCache struct {
	cache *ristretto.Cache[string, Result]
	ttl   time.Duration
}

// NewRistrettoCache creates a cache holding up to maxEntries results, each
// for at most ttl. A zero ttl keeps entries until evicted.
func NewRistrettoCache(maxEntries int64, ttl time.Duration) (*RistrettoCache, error) {
	if maxEntries <= 0 {
		maxEntries = 64
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, Result]{
		NumCounters:        maxEntries * 10, // keys tracked for admission
		MaxCost:            maxEntries,      // one unit per result
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	return &RistrettoCache{cache: cache, ttl: ttl}, nil
}

// Get returns a cached result
func (c *RistrettoCache) Get(key string) (Result, bool) {
	return c.cache.Get(key)
}

// Set stores a result and waits until it is visible to Get
func (c *RistrettoCache) Set(key string, result Result) {
	c.cache.SetWithTTL(key, result, 1, c.ttl)
	c.cache.Wait()
}

// Clear drops every cached result
func (c *RistrettoCache) Clear() {
	c.cache.Clear()
}

// Close releases the cache's background goroutines
func (c *RistrettoCache) Close() {
	c.cache.Close()
}

// cacheKey hashes everything a result depends on
func cacheKey(records []models.CandidateRecord, q Query, rules Rules, today string) (string, error) {
	payload := struct {
		Records []models.CandidateRecord `json:"records"`
		Query   Query                    `json:"query"`
		Rules   Rules                    `json:"rules"`
		Today   string                   `json:"today"`
	}{records, q, rules, today}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
