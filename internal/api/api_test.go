package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floraguard/floraguard-go/internal/analysis"
	"github.com/floraguard/floraguard-go/internal/cache"
	"github.com/floraguard/floraguard-go/internal/conf"
	"github.com/floraguard/floraguard-go/internal/floraguard"
	"github.com/floraguard/floraguard-go/internal/imageproc"
	"github.com/floraguard/floraguard-go/internal/notification"
	"github.com/floraguard/floraguard-go/internal/observability"
	"github.com/floraguard/floraguard-go/internal/reminder"
	"github.com/floraguard/floraguard-go/internal/universal"
)

type fakePrimary struct {
	label      string
	confidence float64
	err        error
}

func (f *fakePrimary) Predict(_ *imageproc.Tensor) (floraguard.Prediction, error) {
	if f.err != nil {
		return floraguard.Prediction{}, f.err
	}
	return floraguard.Prediction{Label: f.label, Confidence: f.confidence}, nil
}

func (f *fakePrimary) SolutionFor(string) string { return "apply copper fungicide" }

type fakeUniversal struct {
	available bool
	diagnosis *universal.Diagnosis
	err       error
}

func (f *fakeUniversal) Available() bool { return f.available }

func (f *fakeUniversal) Classify(context.Context, []byte) (*universal.Diagnosis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.diagnosis, nil
}

type fakeModel struct{ labels, solutions int }

func (f *fakeModel) LabelCount() int    { return f.labels }
func (f *fakeModel) SolutionCount() int { return f.solutions }

type memKV struct {
	mu      sync.Mutex
	data    map[string]string
	failing bool
}

func newMemKV() *memKV { return &memKV{data: make(map[string]string)} }

func (m *memKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return "", false, errors.New("store down")
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("store down")
	}
	m.data[key] = value
	return nil
}

func (m *memKV) Del(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return 0, errors.New("store down")
	}
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *memKV) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, errors.New("store down")
	}
	var out []string
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memKV) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("store down")
	}
	return nil
}

type countingSender struct {
	mu     sync.Mutex
	titles []string
}

func (s *countingSender) Send(title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	return nil
}

func (s *countingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.titles)
}

type controllerOpts struct {
	primary   *fakePrimary
	secondary *fakeUniversal
	kv        cache.KV
	model     ModelInfo
	maxBytes  int64
	sender    notification.Sender
}

func newTestController(opts controllerOpts) *Controller {
	if opts.primary == nil {
		opts.primary = &fakePrimary{label: "Tomato___healthy", confidence: 0.92}
	}
	if opts.secondary == nil {
		opts.secondary = &fakeUniversal{}
	}
	if opts.maxBytes == 0 {
		opts.maxBytes = conf.DefaultMaxUploadBytes
	}
	metrics := observability.NewMetrics()

	var resultCache *cache.Cache
	if opts.kv != nil {
		resultCache = cache.New(opts.kv, time.Hour, metrics)
	}

	settings := &conf.Settings{}
	settings.Cascade.ConfidenceThreshold = conf.DefaultConfidenceThreshold

	e := echo.New()
	return New(e, settings, Dependencies{
		Processor:  analysis.New(opts.primary, opts.secondary, settings.Cascade.ConfidenceThreshold, metrics),
		Model:      opts.model,
		Cache:      resultCache,
		Reminders:  reminder.New(opts.kv, conf.DefaultReminderTTL),
		Dispatcher: notification.NewDispatcher(opts.sender, 0, metrics),
		Normalizer: imageproc.New(conf.DefaultInputSize, opts.maxBytes),
		Metrics:    metrics,
	})
}

func testImageBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := range 16 {
		for x := range 16 {
			img.Set(x, y, color.NRGBA{R: uint8(x * 16), G: 128, B: uint8(y * 16), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartBody(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func doPredict(c *Controller, filename string, data []byte, t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, data)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	c := newTestController(controllerOpts{model: &fakeModel{labels: 38, solutions: 38}})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.ModelLoaded)
	assert.Equal(t, 38, resp.LabelsCount)
	assert.Equal(t, 38, resp.SolutionsCount)
	assert.GreaterOrEqual(t, resp.UptimeSeconds, 0.0)
}

func TestHealthCheckModelMissing(t *testing.T) {
	t.Parallel()

	c := newTestController(controllerOpts{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.False(t, resp.ModelLoaded)
}

func TestPredictStandardLayer(t *testing.T) {
	t.Parallel()

	c := newTestController(controllerOpts{})
	rec := doPredict(c, "leaf.png", testImageBytes(t), t)

	require.Equal(t, http.StatusOK, rec.Code)
	var result analysis.PredictionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "Tomato___healthy", result.Disease)
	assert.Equal(t, analysis.LayerStandard, result.Layer)
	assert.InDelta(t, 0.92, result.Confidence, 1e-9)
	assert.False(t, result.Cached)
}

func TestPredictEscalation(t *testing.T) {
	t.Parallel()

	c := newTestController(controllerOpts{
		primary: &fakePrimary{label: "unknown", confidence: 0.4},
		secondary: &fakeUniversal{
			available: true,
			diagnosis: &universal.Diagnosis{Disease: "Rust", Solution: "remove affected leaves"},
		},
	})
	rec := doPredict(c, "leaf.png", testImageBytes(t), t)

	require.Equal(t, http.StatusOK, rec.Code)
	var result analysis.PredictionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "[Universal] Rust", result.Disease)
	assert.Equal(t, analysis.LayerAdvanced, result.Layer)
	assert.InDelta(t, universal.AdvancedConfidence, result.Confidence, 1e-9)
}

func TestPredictCacheReplay(t *testing.T) {
	t.Parallel()

	c := newTestController(controllerOpts{kv: newMemKV()})
	data := testImageBytes(t)

	first := doPredict(c, "leaf.png", data, t)
	require.Equal(t, http.StatusOK, first.Code)
	var firstResult analysis.PredictionRecord
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstResult))
	assert.False(t, firstResult.Cached)

	second := doPredict(c, "leaf.png", data, t)
	require.Equal(t, http.StatusOK, second.Code)
	var secondResult analysis.PredictionRecord
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondResult))
	assert.True(t, secondResult.Cached)
	assert.Equal(t, firstResult.Disease, secondResult.Disease)
	assert.Equal(t, firstResult.Layer, secondResult.Layer)
	assert.InDelta(t, firstResult.Confidence, secondResult.Confidence, 1e-9)
}

func TestPredictCacheReplayDoesNotReAlert(t *testing.T) {
	t.Parallel()

	sender := &countingSender{}
	c := newTestController(controllerOpts{kv: newMemKV(), sender: sender})
	data := testImageBytes(t)

	// Confidence 0.92 passes the detection trigger policy, so the first
	// upload alerts once. The replay must not alert again.
	first := doPredict(c, "leaf.png", data, t)
	require.Equal(t, http.StatusOK, first.Code)

	second := doPredict(c, "leaf.png", data, t)
	require.Equal(t, http.StatusOK, second.Code)
	var replayed analysis.PredictionRecord
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &replayed))
	require.True(t, replayed.Cached)

	c.Dispatcher.Stop()
	assert.Equal(t, 1, sender.count())
}

func TestPredictDegradedEverywhere(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	kv.failing = true
	c := newTestController(controllerOpts{
		primary: &fakePrimary{label: "Potato___Late_blight", confidence: 0.55},
		kv:      kv,
	})
	rec := doPredict(c, "leaf.png", testImageBytes(t), t)

	require.Equal(t, http.StatusOK, rec.Code)
	var result analysis.PredictionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, analysis.LayerStandard, result.Layer)
	assert.False(t, result.Cached)
}

func TestPredictRejectsExtension(t *testing.T) {
	t.Parallel()

	c := newTestController(controllerOpts{})
	rec := doPredict(c, "notes.txt", []byte("not an image"), t)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictRejectsGarbageBytes(t *testing.T) {
	t.Parallel()

	c := newTestController(controllerOpts{})
	rec := doPredict(c, "leaf.jpg", []byte("definitely not a jpeg"), t)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.NotEmpty(t, resp.CorrelationID)
}

func TestPredictRejectsOversized(t *testing.T) {
	t.Parallel()

	c := newTestController(controllerOpts{maxBytes: 64})
	rec := doPredict(c, "leaf.png", testImageBytes(t), t)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPredictMissingFile(t *testing.T) {
	t.Parallel()

	c := newTestController(controllerOpts{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict", http.NoBody)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReminderLifecycle(t *testing.T) {
	t.Parallel()

	c := newTestController(controllerOpts{kv: newMemKV()})

	payload := `{"medication":"copper fungicide","dosage":"5ml","frequency":"daily","disease":"tomato early blight","user_id":"alice"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reminder", bytes.NewBufferString(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var created ReminderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.Success)
	require.NotEmpty(t, created.ReminderID)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/reminders/alice", http.NoBody)
	rec = httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed ReminderListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Equal(t, 1, listed.Count)
	assert.Equal(t, created.ReminderID, listed.Reminders[0].ID)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/reminder/"+created.ReminderID, http.NoBody)
	rec = httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/reminder/"+created.ReminderID, http.NoBody)
	rec = httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReminderValidation(t *testing.T) {
	t.Parallel()

	c := newTestController(controllerOpts{kv: newMemKV()})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reminder", bytes.NewBufferString(`{"medication":""}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReminderStoreDown(t *testing.T) {
	t.Parallel()

	c := newTestController(controllerOpts{})

	payload := `{"medication":"neem oil","dosage":"10ml","frequency":"weekly","disease":"rust"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reminder", bytes.NewBufferString(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/reminders/alice", http.NoBody)
	rec = httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCacheStats(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	c := newTestController(controllerOpts{kv: kv})
	doPredict(c, "leaf.png", testImageBytes(t), t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", http.NoBody)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats cache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.True(t, stats.Available)
	assert.Equal(t, 1, stats.PredictionCount)
}

func TestCacheStatsStoreDown(t *testing.T) {
	t.Parallel()

	c := newTestController(controllerOpts{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", http.NoBody)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats cache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.False(t, stats.Available)
}

func TestEnrichUnconfigured(t *testing.T) {
	t.Parallel()

	c := newTestController(controllerOpts{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/enrich/rust", http.NoBody)
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
