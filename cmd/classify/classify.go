// Package classify implements one-shot classification of a local image file.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/floraguard/floraguard-go/internal/analysis"
	"github.com/floraguard/floraguard-go/internal/conf"
	"github.com/floraguard/floraguard-go/internal/errors"
	"github.com/floraguard/floraguard-go/internal/floraguard"
	"github.com/floraguard/floraguard-go/internal/imageproc"
	"github.com/floraguard/floraguard-go/internal/observability"
	"github.com/floraguard/floraguard-go/internal/universal"
)

// Command returns the classify command. It runs the same cascade as the
// /predict endpoint against a file on disk and prints the record as JSON.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "classify [image file]",
		Short: "Classify a leaf image without starting the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, args[0])
		},
	}
}

func run(ctx context.Context, settings *conf.Settings, imagePath string) error {
	start := time.Now()

	normalizer := imageproc.New(settings.Model.InputSize, settings.Input.MaxUploadBytes)
	if err := normalizer.ValidateFilename(imagePath); err != nil {
		return err
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return errors.New(fmt.Errorf("reading image: %w", err)).
			Component("classify").
			Category(errors.CategoryFileIO).
			Context("path", imagePath).
			Build()
	}
	if err := normalizer.ValidateSize(int64(len(data))); err != nil {
		return err
	}
	tensor, err := normalizer.Normalize(data)
	if err != nil {
		return err
	}

	classifier, err := floraguard.New(settings)
	if err != nil {
		return err
	}
	defer classifier.Close()

	processor := analysis.New(classifier, universal.New(settings), settings.Cascade.ConfidenceThreshold, observability.NewMetrics())
	rec, err := processor.Process(ctx, data, tensor, start)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}
