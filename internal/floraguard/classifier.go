// Package floraguard wraps the local TensorFlow Lite plant-disease model
// together with its label and solution tables. All artifacts load once at
// startup and are immutable afterwards; interpreter access is serialized.
package floraguard

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	tflite "github.com/tphakala/go-tflite"

	"github.com/floraguard/floraguard-go/internal/conf"
	"github.com/floraguard/floraguard-go/internal/errors"
	"github.com/floraguard/floraguard-go/internal/imageproc"
	"github.com/floraguard/floraguard-go/internal/logging"
)

// UnknownLabel is reported when the arg-max index falls outside the label
// table. Out-of-range indices are logged but never fail a request.
const UnknownLabel = "unknown"

// NoSolutionText is returned when the solution table has no entry for a
// disease.
const NoSolutionText = "No specific solution available. Please consult with a plant pathologist for proper diagnosis and treatment."

// Prediction is the raw output of a single inference pass.
type Prediction struct {
	Label      string
	Confidence float64
}

// Classifier owns the TFLite interpreter plus the label and solution tables.
type Classifier struct {
	interpreter *tflite.Interpreter
	model       *tflite.Model
	labels      []string
	solutions   map[string]string
	inputSize   int
	mu          sync.Mutex
	log         *slog.Logger
}

// New loads the model, labels and solutions named by settings and allocates
// the interpreter. Any failure here is a startup precondition failure; the
// caller should refuse to serve predictions.
func New(settings *conf.Settings) (*Classifier, error) {
	c := &Classifier{
		inputSize: settings.Model.InputSize,
		log:       logging.ForService("floraguard"),
	}

	modelData, err := os.ReadFile(settings.Model.Path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("reading model file: %w", err)).
			Component("floraguard").
			Category(errors.CategoryModelInit).
			Context("model_path", settings.Model.Path).
			Build()
	}

	c.model = tflite.NewModel(modelData)
	if c.model == nil {
		return nil, errors.Newf("cannot load TensorFlow Lite model").
			Component("floraguard").
			Category(errors.CategoryModelInit).
			Context("model_path", settings.Model.Path).
			Context("model_size_mb", len(modelData)/1024/1024).
			Build()
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threadCount(settings.Model.Threads))
	options.SetErrorReporter(func(msg string, userData any) {
		logging.ForService("floraguard").Error("TFLite error", "message", msg)
	}, nil)

	c.interpreter = tflite.NewInterpreter(c.model, options)
	if c.interpreter == nil {
		return nil, errors.Newf("cannot create interpreter").
			Component("floraguard").
			Category(errors.CategoryModelInit).
			Build()
	}
	if status := c.interpreter.AllocateTensors(); status != tflite.OK {
		return nil, errors.Newf("tensor allocation failed: %v", status).
			Component("floraguard").
			Category(errors.CategoryModelInit).
			Build()
	}

	if err := c.loadLabels(settings.Model.LabelPath); err != nil {
		return nil, err
	}
	if err := c.loadSolutions(settings.Model.SolutionPath); err != nil {
		return nil, err
	}

	// TFLite keeps its own copy of the model data; reclaim ours.
	runtime.GC()

	c.log.Info("classifier initialized",
		"model_path", settings.Model.Path,
		"labels", len(c.labels),
		"solutions", len(c.solutions),
		"input_size", c.inputSize)
	return c, nil
}

// Predict runs inference on a normalized tensor and returns the arg-max label
// with its probability.
func (c *Classifier) Predict(t *imageproc.Tensor) (Prediction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	input := c.interpreter.GetInputTensor(0)
	if input == nil {
		return Prediction{}, errors.Newf("cannot get input tensor").
			Component("floraguard").
			Category(errors.CategoryModelUnavailable).
			Build()
	}
	if err := fillInput(input.Float32s(), t.Data); err != nil {
		return Prediction{}, err
	}

	if status := c.interpreter.Invoke(); status != tflite.OK {
		return Prediction{}, errors.Newf("tensor invoke failed: %v", status).
			Component("floraguard").
			Category(errors.CategoryModelUnavailable).
			Build()
	}

	output := c.interpreter.GetOutputTensor(0)
	if output == nil {
		return Prediction{}, errors.Newf("cannot get output tensor").
			Component("floraguard").
			Category(errors.CategoryModelUnavailable).
			Build()
	}

	scores := make([]float32, output.Dim(output.NumDims()-1))
	copy(scores, output.Float32s())

	idx, confidence := argmax(scores)
	label := UnknownLabel
	if idx >= 0 && idx < len(c.labels) {
		label = c.labels[idx]
	} else {
		c.log.Warn("arg-max index outside label table", "index", idx, "labels", len(c.labels))
	}

	return Prediction{Label: label, Confidence: float64(confidence)}, nil
}

// SolutionFor looks up the treatment text for a raw classifier label. Labels
// are normalized before lookup; missing entries yield NoSolutionText.
func (c *Classifier) SolutionFor(label string) string {
	if s, ok := c.solutions[NormalizeLabel(label)]; ok {
		return s
	}
	return NoSolutionText
}

// LabelCount returns the size of the loaded label table.
func (c *Classifier) LabelCount() int { return len(c.labels) }

// SolutionCount returns the size of the loaded solution table.
func (c *Classifier) SolutionCount() int { return len(c.solutions) }

// Close releases interpreter resources.
func (c *Classifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interpreter != nil {
		c.interpreter.Delete()
		c.interpreter = nil
	}
	if c.model != nil {
		c.model.Delete()
		c.model = nil
	}
}

// NormalizeLabel maps a raw classifier label to a solution-table key: the
// "___" category separator and underscores become spaces, lower-cased and
// trimmed. "Tomato___Early_blight" -> "tomato early blight".
func NormalizeLabel(label string) string {
	key := strings.ReplaceAll(label, "___", " ")
	key = strings.ReplaceAll(key, "_", " ")
	return strings.TrimSpace(strings.ToLower(key))
}

func (c *Classifier) loadLabels(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.New(fmt.Errorf("reading label file: %w", err)).
			Component("floraguard").
			Category(errors.CategoryModelInit).
			Context("label_path", path).
			Build()
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			c.labels = append(c.labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.New(err).
			Component("floraguard").
			Category(errors.CategoryModelInit).
			Context("label_path", path).
			Build()
	}
	if len(c.labels) == 0 {
		return errors.Newf("label file %s contains no labels", path).
			Component("floraguard").
			Category(errors.CategoryModelInit).
			Build()
	}
	return nil
}

func (c *Classifier) loadSolutions(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.New(fmt.Errorf("reading solution table: %w", err)).
			Component("floraguard").
			Category(errors.CategoryModelInit).
			Context("solution_path", path).
			Build()
	}
	if err := json.Unmarshal(data, &c.solutions); err != nil {
		return errors.New(fmt.Errorf("parsing solution table: %w", err)).
			Component("floraguard").
			Category(errors.CategoryModelInit).
			Context("solution_path", path).
			Build()
	}
	return nil
}

// fillInput copies a normalized tensor into the model's input buffer. A
// length mismatch means the configured input size disagrees with the model;
// feeding a partially written tensor would silently corrupt the prediction.
func fillInput(dst, src []float32) error {
	if len(dst) != len(src) {
		return errors.Newf("input tensor size mismatch: model expects %d values, got %d", len(dst), len(src)).
			Component("floraguard").
			Category(errors.CategoryModelUnavailable).
			Context("model_values", len(dst)).
			Context("tensor_values", len(src)).
			Build()
	}
	copy(dst, src)
	return nil
}

func argmax(scores []float32) (int, float32) {
	idx := -1
	best := float32(0)
	for i, s := range scores {
		if idx == -1 || s > best {
			idx = i
			best = s
		}
	}
	return idx, best
}

func threadCount(configured int) int {
	cpus := runtime.NumCPU()
	if configured <= 0 || configured > cpus {
		return cpus
	}
	return configured
}
