package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/floraguard/floraguard-go/internal/analysis"
	"github.com/floraguard/floraguard-go/internal/logging"
	"github.com/floraguard/floraguard-go/internal/observability"
)

// PredictionKeyPrefix namespaces cached prediction records in the store.
const PredictionKeyPrefix = "prediction:"

// ReminderKeyPrefix namespaces reminder records in the store.
const ReminderKeyPrefix = "reminder:"

// Cache maps image fingerprints to previously computed prediction records.
// A nil KV means no store is configured: Get always misses and Put is a
// no-op.
type Cache struct {
	kv      KV
	ttl     time.Duration
	metrics *observability.Metrics
	log     *slog.Logger
}

// New builds a prediction cache over kv, which may be nil.
func New(kv KV, ttl time.Duration, metrics *observability.Metrics) *Cache {
	return &Cache{
		kv:      kv,
		ttl:     ttl,
		metrics: metrics,
		log:     logging.ForService("cache"),
	}
}

// Available reports whether a store is configured and reachable.
func (c *Cache) Available(ctx context.Context) bool {
	return c.kv != nil && c.kv.Ping(ctx) == nil
}

// Get returns the cached record for a fingerprint, or (nil, false) on a miss.
// Store failures count as misses. On a hit the timestamp and processing-time
// fields are refreshed for the current request and cached is set; the
// disease, confidence, solution and layer fields replay verbatim.
func (c *Cache) Get(ctx context.Context, fingerprint string, requestStart time.Time) (*analysis.PredictionRecord, bool) {
	if c.kv == nil {
		c.metrics.CacheMisses.Inc()
		return nil, false
	}

	raw, found, err := c.kv.Get(ctx, PredictionKeyPrefix+fingerprint)
	if err != nil {
		c.log.Warn("cache read failed, treating as miss", "error", err)
		c.metrics.CacheMisses.Inc()
		return nil, false
	}
	if !found {
		c.metrics.CacheMisses.Inc()
		return nil, false
	}

	var rec analysis.PredictionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		c.log.Warn("cache entry corrupt, treating as miss", "fingerprint", shortFingerprint(fingerprint), "error", err)
		c.metrics.CacheMisses.Inc()
		return nil, false
	}

	rec.Timestamp = time.Now()
	rec.ProcessingTimeMs = float64(time.Since(requestStart).Microseconds()) / 1000.0
	rec.Cached = true

	c.metrics.CacheHits.Inc()
	c.log.Info("cache hit", "fingerprint", shortFingerprint(fingerprint))
	return &rec, true
}

// Put stores a record under the fingerprint with the configured TTL. Store
// failures are logged and swallowed; caching is never a correctness
// dependency.
func (c *Cache) Put(ctx context.Context, fingerprint string, rec *analysis.PredictionRecord) {
	if c.kv == nil {
		return
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		c.log.Warn("cache encode failed", "error", err)
		return
	}
	if err := c.kv.Set(ctx, PredictionKeyPrefix+fingerprint, string(raw), c.ttl); err != nil {
		c.log.Warn("cache write failed", "fingerprint", shortFingerprint(fingerprint), "error", err)
		return
	}
	c.log.Debug("cached prediction", "fingerprint", shortFingerprint(fingerprint))
}

// Stats describes store health and entry counts for diagnostics.
type Stats struct {
	Available       bool `json:"available"`
	PredictionCount int  `json:"prediction_count,omitempty"`
	ReminderCount   int  `json:"reminder_count,omitempty"`
}

// Stats returns store diagnostics, degrading to Available=false rather than
// erroring.
func (c *Cache) Stats(ctx context.Context) Stats {
	if c.kv == nil || c.kv.Ping(ctx) != nil {
		return Stats{Available: false}
	}

	stats := Stats{Available: true}
	if keys, err := c.kv.Keys(ctx, PredictionKeyPrefix+"*"); err == nil {
		stats.PredictionCount = len(keys)
	}
	if keys, err := c.kv.Keys(ctx, ReminderKeyPrefix+"*"); err == nil {
		stats.ReminderCount = len(keys)
	}
	return stats
}

func shortFingerprint(fp string) string {
	if len(fp) > 8 {
		return fp[:8]
	}
	return fp
}
