// Package universal adapts the foundation-model service used as the
// advanced classification layer and for structured disease enrichment.
// Both calls fail soft: callers degrade to the standard layer or to
// "no enrichment" on any error here.
package universal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	gocache "github.com/patrickmn/go-cache"

	"github.com/floraguard/floraguard-go/internal/conf"
	"github.com/floraguard/floraguard-go/internal/errors"
	"github.com/floraguard/floraguard-go/internal/logging"
)

// AdvancedConfidence is the fixed confidence assigned to advanced-layer
// answers; the foundation model is treated as authoritative when it answers
// at all.
const AdvancedConfidence = 0.95

const (
	enrichmentCacheTTL  = 10 * time.Minute
	enrichmentCacheTidy = 30 * time.Minute
)

// Diagnosis is the strict output contract of the advanced classification
// call: a disease name and a short treatment string.
type Diagnosis struct {
	Disease  string `json:"disease"`
	Solution string `json:"solution"`
}

// Client talks to an OpenAI-compatible endpoint. A zero API key disables it;
// Available reports false and all calls fail with a secondary-unavailable
// error.
type Client struct {
	api     openai.Client
	model   string
	enabled bool
	timeout time.Duration
	memo    *gocache.Cache
	log     *slog.Logger
}

// Option customizes the Client, mainly for tests.
type Option func(*[]option.RequestOption)

// WithHTTPClient routes SDK traffic through hc. Tests use this to intercept
// requests with httpmock.
func WithHTTPClient(hc *http.Client) Option {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithHTTPClient(hc))
	}
}

// New builds a Client from settings.
func New(settings *conf.Settings, opts ...Option) *Client {
	c := &Client{
		model:   settings.Universal.Model,
		enabled: strings.TrimSpace(settings.Universal.APIKey) != "",
		timeout: settings.Universal.Timeout,
		memo:    gocache.New(enrichmentCacheTTL, enrichmentCacheTidy),
		log:     logging.ForService("universal"),
	}
	if !c.enabled {
		c.log.Info("universal layer disabled, no API key configured")
		return c
	}

	requestOpts := []option.RequestOption{
		option.WithAPIKey(settings.Universal.APIKey),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(settings.Universal.BaseURL); base != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(strings.TrimRight(base, "/")))
	}
	for _, o := range opts {
		o(&requestOpts)
	}
	c.api = openai.NewClient(requestOpts...)
	return c
}

// Available reports whether the advanced layer can be attempted. This is a
// cheap configuration probe and never consumes quota.
func (c *Client) Available() bool {
	return c != nil && c.enabled
}

// classifyPrompt asks for the strict Diagnosis contract.
const classifyPrompt = `Analyze this plant image quickly. Identify the disease/condition and provide treatment.
Return JSON: {"disease": "specific disease name", "solution": "brief treatment (2 sentences max)"}`

// Classify submits the raw image to the foundation model and parses the
// strict diagnosis contract from its reply.
func (c *Client) Classify(ctx context.Context, imageData []byte) (*Diagnosis, error) {
	if !c.Available() {
		return nil, errors.Newf("universal layer not configured").
			Component("universal").
			Category(errors.CategorySecondaryUnavailable).
			Build()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(imageData)
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
							openai.TextContentPart(classifyPrompt),
							openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
						},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, c.wrapCallError(err, "classify")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.Newf("empty completion response").
			Component("universal").
			Category(errors.CategorySecondaryUnavailable).
			Build()
	}

	var diag Diagnosis
	if err := json.Unmarshal([]byte(StripFences(resp.Choices[0].Message.Content)), &diag); err != nil {
		return nil, errors.New(fmt.Errorf("parsing diagnosis: %w", err)).
			Component("universal").
			Category(errors.CategorySecondaryUnavailable).
			Build()
	}
	if strings.TrimSpace(diag.Disease) == "" {
		diag.Disease = "Unknown Condition"
	}
	if strings.TrimSpace(diag.Solution) == "" {
		diag.Solution = "Consult an expert."
	}
	return &diag, nil
}

// wrapCallError classifies SDK failures. Quota and rate-limit responses get
// their own category so the caller can log that retry is expected once quota
// resets; everything else is a plain secondary-unavailable.
func (c *Client) wrapCallError(err error, operation string) error {
	category := errors.CategorySecondaryUnavailable

	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		category = errors.CategorySecondaryQuota
	} else if msg := strings.ToLower(err.Error()); strings.Contains(msg, "quota") || strings.Contains(msg, "429") {
		category = errors.CategorySecondaryQuota
	}

	return errors.New(fmt.Errorf("universal %s: %w", operation, err)).
		Component("universal").
		Category(category).
		Context("model", c.model).
		Build()
}

// StripFences removes a Markdown code fence wrapper, with or without a
// language tag, from model output before structural parsing.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	// Drop the language tag line if present.
	if idx := strings.Index(text, "\n"); idx >= 0 {
		first := strings.TrimSpace(text[:idx])
		if first == "json" || first == "" {
			text = text[idx+1:]
		}
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
