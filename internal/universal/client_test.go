package universal

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floraguard/floraguard-go/internal/conf"
	"github.com/floraguard/floraguard-go/internal/errors"
)

const completionsURL = "=~chat/completions\\z"

func newTestClient(t *testing.T, apiKey string) (*Client, *httpmock.MockTransport) {
	t.Helper()

	settings := &conf.Settings{}
	settings.Universal.APIKey = apiKey
	settings.Universal.Model = "gpt-4o-mini"
	settings.Universal.Timeout = 5 * time.Second

	transport := httpmock.NewMockTransport()
	c := New(settings, WithHTTPClient(&http.Client{Transport: transport}))
	return c, transport
}

// jsonResponder serves body with the JSON content type the SDK requires for
// structured response decoding.
func jsonResponder(status int, body string) httpmock.Responder {
	return func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(status, body)
		resp.Header.Set("Content-Type", "application/json")
		return resp, nil
	}
}

func completionBody(t *testing.T, content string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}}},
	})
	require.NoError(t, err)
	return string(body)
}

func TestStripFences(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
		{"plain text answer", "plain text answer"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StripFences(tc.in))
	}
}

func TestClassifyParsesFencedDiagnosis(t *testing.T) {
	c, transport := newTestClient(t, "test-key")
	transport.RegisterResponder("POST", completionsURL,
		jsonResponder(http.StatusOK,
			completionBody(t, "```json\n{\"disease\": \"Rust\", \"solution\": \"Apply fungicide. Remove affected leaves.\"}\n```")))

	diag, err := c.Classify(context.Background(), []byte("fake-image-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "Rust", diag.Disease)
	assert.Equal(t, "Apply fungicide. Remove affected leaves.", diag.Solution)
}

func TestClassifyQuotaFailureIsDistinct(t *testing.T) {
	c, transport := newTestClient(t, "test-key")
	transport.RegisterResponder("POST", completionsURL,
		jsonResponder(http.StatusTooManyRequests,
			`{"error": {"message": "You exceeded your current quota", "type": "insufficient_quota"}}`))

	_, err := c.Classify(context.Background(), []byte("fake"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategorySecondaryQuota))
}

func TestClassifyMalformedOutputFailsSoft(t *testing.T) {
	c, transport := newTestClient(t, "test-key")
	transport.RegisterResponder("POST", completionsURL,
		jsonResponder(http.StatusOK, completionBody(t, "I am not JSON at all")))

	_, err := c.Classify(context.Background(), []byte("fake"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategorySecondaryUnavailable))
}

func TestClassifyUnconfigured(t *testing.T) {
	c, _ := newTestClient(t, "")

	assert.False(t, c.Available())
	_, err := c.Classify(context.Background(), []byte("fake"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategorySecondaryUnavailable))
}

func TestEnrichParsesAndMemoizes(t *testing.T) {
	c, transport := newTestClient(t, "test-key")
	report := `{
		"name": "Early Blight",
		"causes": {"details": "Alternaria solani in warm humid conditions."},
		"prevention": {"measures": ["Rotate crops", "Water at soil level"]},
		"treatment": {"stages": [{"name": "Stage 1", "description": "Scout", "components": ["Inspect weekly"], "medications": []}]},
		"medications": [{"name": "Chlorothalonil", "dosage": "2ml/L", "frequency": "Weekly", "side_effects": "Avoid contact"}],
		"emergency": {"action": "Remove plant", "signs": ["Stem lesions"]},
		"recovery": {"timeline": ["Week 1: stabilize"], "success_rate": "80%"}
	}`
	transport.RegisterResponder("POST", completionsURL,
		jsonResponder(http.StatusOK, completionBody(t, report)))

	detail, err := c.Enrich(context.Background(), "Early Blight")
	require.NoError(t, err)
	assert.Equal(t, "Early Blight", detail.Name)
	assert.Equal(t, "Alternaria solani in warm humid conditions.", detail.Causes["details"])
	require.Len(t, detail.Medications, 1)
	assert.Equal(t, "Chlorothalonil", detail.Medications[0].Name)

	// Second lookup is served from the in-process memo, not the API.
	again, err := c.Enrich(context.Background(), "early blight")
	require.NoError(t, err)
	assert.Equal(t, detail, again)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestEnrichMalformedReportFailsSoft(t *testing.T) {
	c, transport := newTestClient(t, "test-key")
	transport.RegisterResponder("POST", completionsURL,
		jsonResponder(http.StatusOK, completionBody(t, `["not", "an", "object"]`)))

	_, err := c.Enrich(context.Background(), "Rust")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategorySecondaryUnavailable))
}
