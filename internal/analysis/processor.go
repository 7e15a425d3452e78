// Package analysis implements the two-layer inference cascade: the local
// classifier answers first, and low-confidence results escalate to the
// universal foundation-model layer when it is available.
package analysis

import (
	"context"
	"log/slog"
	"time"

	"github.com/floraguard/floraguard-go/internal/errors"
	"github.com/floraguard/floraguard-go/internal/floraguard"
	"github.com/floraguard/floraguard-go/internal/imageproc"
	"github.com/floraguard/floraguard-go/internal/logging"
	"github.com/floraguard/floraguard-go/internal/observability"
	"github.com/floraguard/floraguard-go/internal/universal"
)

// UniversalMarker prefixes advanced-layer disease names so consumers can
// distinguish a foundation-model diagnosis from a trained-classifier one.
// The marker is part of the label string itself; no separate provenance
// field is threaded through every consumer.
const UniversalMarker = "[Universal] "

// PrimaryClassifier is the standard-layer contract.
type PrimaryClassifier interface {
	Predict(t *imageproc.Tensor) (floraguard.Prediction, error)
	SolutionFor(label string) string
}

// UniversalClassifier is the advanced-layer contract. Available must be a
// cheap probe that consumes no metered quota.
type UniversalClassifier interface {
	Available() bool
	Classify(ctx context.Context, imageData []byte) (*universal.Diagnosis, error)
}

// Processor runs the cascade and assembles prediction records.
type Processor struct {
	primary   PrimaryClassifier
	secondary UniversalClassifier
	threshold float64
	metrics   *observability.Metrics
	log       *slog.Logger
}

// New builds a Processor. threshold is inclusive on the accept side: primary
// confidence >= threshold stays on the standard layer.
func New(primary PrimaryClassifier, secondary UniversalClassifier, threshold float64, metrics *observability.Metrics) *Processor {
	return &Processor{
		primary:   primary,
		secondary: secondary,
		threshold: threshold,
		metrics:   metrics,
		log:       logging.ForService("analysis"),
	}
}

// Process classifies one request. rawImage carries the original upload for
// the advanced layer; tensor the normalized standard-layer input; start the
// request start time used to stamp processing duration.
//
// Only a standard-layer failure can propagate out of here. Every advanced
// layer failure degrades to the standard result.
func (p *Processor) Process(ctx context.Context, rawImage []byte, tensor *imageproc.Tensor, start time.Time) (*PredictionRecord, error) {
	pred, err := p.primary.Predict(tensor)
	if err != nil {
		return nil, err
	}
	p.log.Info("standard layer result", "label", pred.Label, "confidence", pred.Confidence)

	if pred.Confidence >= p.threshold {
		p.log.Debug("confidence at or above threshold, staying on standard layer",
			"confidence", pred.Confidence, "threshold", p.threshold)
		return p.assembleStandard(pred, start), nil
	}

	if !p.secondary.Available() {
		p.log.Warn("confidence below threshold but universal layer unavailable",
			"confidence", pred.Confidence, "threshold", p.threshold)
		return p.assembleStandard(pred, start), nil
	}

	p.log.Info("confidence below threshold, escalating to universal layer",
		"confidence", pred.Confidence, "threshold", p.threshold)
	p.metrics.Escalations.Inc()

	diag, err := p.secondary.Classify(ctx, rawImage)
	if err != nil {
		if errors.HasCategory(err, errors.CategorySecondaryQuota) {
			// No persisted cooldown: the next request independently
			// re-probes availability.
			p.metrics.QuotaFailures.Inc()
			p.log.Warn("universal layer quota exceeded, retry expected once quota resets", "error", err)
		} else {
			p.log.Warn("universal layer failed, using standard result", "error", err)
		}
		return p.assembleStandard(pred, start), nil
	}

	p.metrics.PredictionsByLayer.WithLabelValues(string(LayerAdvanced)).Inc()
	return &PredictionRecord{
		Disease:          UniversalMarker + diag.Disease,
		Confidence:       universal.AdvancedConfidence,
		Solution:         diag.Solution,
		Layer:            LayerAdvanced,
		Timestamp:        time.Now(),
		ProcessingTimeMs: msSince(start),
		Cached:           false,
	}, nil
}

func (p *Processor) assembleStandard(pred floraguard.Prediction, start time.Time) *PredictionRecord {
	p.metrics.PredictionsByLayer.WithLabelValues(string(LayerStandard)).Inc()
	return &PredictionRecord{
		Disease:          pred.Label,
		Confidence:       pred.Confidence,
		Solution:         p.primary.SolutionFor(pred.Label),
		Layer:            LayerStandard,
		Timestamp:        time.Now(),
		ProcessingTimeMs: msSince(start),
		Cached:           false,
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
