package universal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v2"
	gocache "github.com/patrickmn/go-cache"

	"github.com/floraguard/floraguard-go/internal/errors"
)

// TreatmentStage is one phase of a staged treatment plan.
type TreatmentStage struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Components  []string `json:"components"`
	Medications []string `json:"medications"`
}

// Medication describes a recommended treatment product.
type Medication struct {
	Name        string `json:"name"`
	Dosage      string `json:"dosage"`
	Frequency   string `json:"frequency"`
	SideEffects string `json:"side_effects"`
}

// EmergencyInfo lists the critical action and warning signs.
type EmergencyInfo struct {
	Action string   `json:"action"`
	Signs  []string `json:"signs"`
}

// RecoveryInfo gives the expected recovery timeline.
type RecoveryInfo struct {
	Timeline    []string `json:"timeline"`
	SuccessRate string   `json:"success_rate"`
}

// DiseaseDetail is the structured enrichment report. Absent whenever
// enrichment was not invoked or failed.
type DiseaseDetail struct {
	Name        string                      `json:"name"`
	Causes      map[string]string           `json:"causes"`
	Prevention  map[string][]string         `json:"prevention"`
	Treatment   map[string][]TreatmentStage `json:"treatment"`
	Medications []Medication                `json:"medications"`
	Emergency   EmergencyInfo               `json:"emergency"`
	Recovery    RecoveryInfo                `json:"recovery"`
}

const enrichPromptTemplate = `Provide a detailed, professional medical-style report for the plant disease: '%s'.
Return ONLY a JSON object with the following structure:
{
  "name": "Proper Disease Name",
  "causes": {"details": "Detailed explanation of pathogens and environmental triggers."},
  "prevention": {"measures": ["Measure 1", "Measure 2", "Measure 3"]},
  "treatment": {"stages": [
    {"name": "Stage 1: Early Detection", "description": "...", "components": ["..."], "medications": ["..."]},
    {"name": "Stage 2: Active Treatment", "description": "...", "components": ["..."], "medications": ["..."]},
    {"name": "Stage 3: Recovery", "description": "...", "components": ["..."], "medications": []}
  ]},
  "medications": [{"name": "...", "dosage": "...", "frequency": "...", "side_effects": "..."}],
  "emergency": {"action": "...", "signs": ["..."]},
  "recovery": {"timeline": ["Week 1: ...", "Week 2: ..."], "success_rate": "..."}
}`

// Enrich fetches a structured long-form report for a disease. Successful
// reports are memoized in-process so repeated lookups do not spend quota.
// Any failure, including malformed model output, yields an error the caller
// must treat as "no enrichment".
func (c *Client) Enrich(ctx context.Context, diseaseName string) (*DiseaseDetail, error) {
	if !c.Available() {
		return nil, errors.Newf("universal layer not configured").
			Component("universal").
			Category(errors.CategorySecondaryUnavailable).
			Build()
	}

	key := strings.ToLower(strings.TrimSpace(diseaseName))
	if cached, ok := c.memo.Get(key); ok {
		if detail, ok := cached.(*DiseaseDetail); ok {
			return detail, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(fmt.Sprintf(enrichPromptTemplate, diseaseName)),
		},
	})
	if err != nil {
		return nil, c.wrapCallError(err, "enrich")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.Newf("empty completion response").
			Component("universal").
			Category(errors.CategorySecondaryUnavailable).
			Build()
	}

	var detail DiseaseDetail
	if err := json.Unmarshal([]byte(StripFences(resp.Choices[0].Message.Content)), &detail); err != nil {
		return nil, errors.New(fmt.Errorf("parsing enrichment report: %w", err)).
			Component("universal").
			Category(errors.CategorySecondaryUnavailable).
			Context("disease", diseaseName).
			Build()
	}
	if strings.TrimSpace(detail.Name) == "" {
		detail.Name = diseaseName
	}

	c.memo.Set(key, &detail, gocache.DefaultExpiration)
	return &detail, nil
}
