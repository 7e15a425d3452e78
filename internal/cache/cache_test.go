package cache

import (
	"context"
	"fmt"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floraguard/floraguard-go/internal/analysis"
	"github.com/floraguard/floraguard-go/internal/observability"
)

// memKV is an in-memory KV for tests. TTLs are tracked but only enforced on
// Get, mirroring the store's lazy expiration.
type memKV struct {
	mu      sync.Mutex
	data    map[string]string
	expires map[string]time.Time
	failing bool
}

func newMemKV() *memKV {
	return &memKV{data: map[string]string{}, expires: map[string]time.Time{}}
}

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return "", false, fmt.Errorf("store unreachable")
	}
	if exp, ok := m.expires[key]; ok && time.Now().After(exp) {
		delete(m.data, key)
		delete(m.expires, key)
	}
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return fmt.Errorf("store unreachable")
	}
	m.data[key] = value
	if ttl > 0 {
		m.expires[key] = time.Now().Add(ttl)
	}
	return nil
}

func (m *memKV) Del(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return 0, fmt.Errorf("store unreachable")
	}
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			delete(m.expires, k)
			n++
		}
	}
	return n, nil
}

func (m *memKV) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, fmt.Errorf("store unreachable")
	}
	var keys []string
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *memKV) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return fmt.Errorf("store unreachable")
	}
	return nil
}

func sampleRecord() *analysis.PredictionRecord {
	return &analysis.PredictionRecord{
		Disease:          "Tomato___healthy",
		Confidence:       0.92,
		Solution:         "No action needed.",
		Layer:            analysis.LayerStandard,
		Timestamp:        time.Now().Add(-time.Hour),
		ProcessingTimeMs: 120.5,
		Cached:           false,
	}
}

func TestFingerprintDeterminism(t *testing.T) {
	t.Parallel()

	a := []byte("leaf image bytes")
	b := []byte("leaf image bytes!")

	assert.Equal(t, Fingerprint(a), Fingerprint(a))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
	assert.Len(t, Fingerprint(a), 32, "128-bit hex digest")
	assert.Len(t, Fingerprint(nil), 32)
}

func TestPutThenGetReplaysVerbatim(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	c := New(kv, time.Hour, observability.NewMetrics())
	fp := Fingerprint([]byte("image-x"))
	rec := sampleRecord()

	c.Put(context.Background(), fp, rec)

	start := time.Now()
	got, hit := c.Get(context.Background(), fp, start)
	require.True(t, hit)

	assert.Equal(t, rec.Disease, got.Disease)
	assert.InDelta(t, rec.Confidence, got.Confidence, 1e-9)
	assert.Equal(t, rec.Solution, got.Solution)
	assert.Equal(t, rec.Layer, got.Layer)
	assert.True(t, got.Cached)
	assert.WithinDuration(t, time.Now(), got.Timestamp, time.Second)
	assert.NotEqual(t, rec.ProcessingTimeMs, got.ProcessingTimeMs)
}

func TestGetMissesOnUnknownFingerprint(t *testing.T) {
	t.Parallel()

	c := New(newMemKV(), time.Hour, observability.NewMetrics())
	_, hit := c.Get(context.Background(), Fingerprint([]byte("never seen")), time.Now())
	assert.False(t, hit)
}

func TestNilStoreDegradesGracefully(t *testing.T) {
	t.Parallel()

	c := New(nil, time.Hour, observability.NewMetrics())

	c.Put(context.Background(), "abc", sampleRecord())
	_, hit := c.Get(context.Background(), "abc", time.Now())
	assert.False(t, hit)
	assert.False(t, c.Available(context.Background()))
	assert.False(t, c.Stats(context.Background()).Available)
}

func TestFailingStoreDegradesGracefully(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	kv.failing = true
	c := New(kv, time.Hour, observability.NewMetrics())

	c.Put(context.Background(), "abc", sampleRecord())
	_, hit := c.Get(context.Background(), "abc", time.Now())
	assert.False(t, hit)
	assert.False(t, c.Stats(context.Background()).Available)
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	require.NoError(t, kv.Set(context.Background(), PredictionKeyPrefix+"deadbeef", "{not json", time.Hour))

	c := New(kv, time.Hour, observability.NewMetrics())
	_, hit := c.Get(context.Background(), "deadbeef", time.Now())
	assert.False(t, hit)
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	c := New(kv, time.Millisecond, observability.NewMetrics())
	fp := Fingerprint([]byte("short-lived"))

	c.Put(context.Background(), fp, sampleRecord())
	time.Sleep(5 * time.Millisecond)

	_, hit := c.Get(context.Background(), fp, time.Now())
	assert.False(t, hit)
}

func TestStatsCountsNamespaces(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	c := New(kv, time.Hour, observability.NewMetrics())

	c.Put(context.Background(), "fp1", sampleRecord())
	c.Put(context.Background(), "fp2", sampleRecord())
	require.NoError(t, kv.Set(context.Background(), ReminderKeyPrefix+"rem_1_u", "{}", time.Hour))

	stats := c.Stats(context.Background())
	assert.True(t, stats.Available)
	assert.Equal(t, 2, stats.PredictionCount)
	assert.Equal(t, 1, stats.ReminderCount)
}
