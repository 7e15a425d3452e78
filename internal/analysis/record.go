package analysis

import (
	"time"

	"github.com/floraguard/floraguard-go/internal/universal"
)

// Layer identifies which classifier produced a result.
type Layer string

const (
	// LayerStandard is the locally hosted, pre-trained classifier.
	LayerStandard Layer = "Standard"
	// LayerAdvanced is the foundation-model fallback.
	LayerAdvanced Layer = "Advanced"
)

// PredictionRecord is the cached and returned artifact of one classification
// request. Created fresh on a cache miss; on a hit, timestamp,
// processing-time and cached fields are refreshed while the rest replays
// verbatim.
type PredictionRecord struct {
	Disease          string                   `json:"disease"`
	Confidence       float64                  `json:"confidence"`
	Solution         string                   `json:"solution"`
	Layer            Layer                    `json:"layer"`
	Details          *universal.DiseaseDetail `json:"details"`
	Timestamp        time.Time                `json:"timestamp"`
	ProcessingTimeMs float64                  `json:"processing_time_ms"`
	Cached           bool                     `json:"cached"`
}
