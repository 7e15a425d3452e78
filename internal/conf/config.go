// Package conf defines the application settings and loads them from a YAML
// config file and FLORAGUARD_* environment variables via viper. Settings are
// constructed once at startup and passed explicitly; there is no mutable
// package-level state.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/floraguard/floraguard-go/internal/errors"
)

// WebServerSettings contains settings for the HTTP server.
type WebServerSettings struct {
	Host  string `yaml:"host"`
	Port  string `yaml:"port"`
	Debug bool   `yaml:"debug"`
}

// ModelSettings describes the local classifier artifacts.
type ModelSettings struct {
	Path         string `yaml:"path"`         // path to the .tflite model file
	LabelPath    string `yaml:"labelpath"`    // path to labels.txt, one label per line
	SolutionPath string `yaml:"solutionpath"` // path to the solutions JSON table
	InputSize    int    `yaml:"inputsize"`    // square input dimension expected by the model
	Threads      int    `yaml:"threads"`      // interpreter threads, 0 = NumCPU
}

// CascadeSettings tunes the two-layer decision engine.
type CascadeSettings struct {
	// ConfidenceThreshold is inclusive on the accept side: results at or
	// above it stay on the standard layer.
	ConfidenceThreshold float64 `yaml:"confidencethreshold"`
}

// StoreSettings configures the Redis-backed result and reminder store.
// The store is optional; an empty URL disables it entirely.
type StoreSettings struct {
	URL           string        `yaml:"url"`
	Timeout       time.Duration `yaml:"timeout"`
	PredictionTTL time.Duration `yaml:"predictionttl"`
	ReminderTTL   time.Duration `yaml:"reminderttl"`
}

// UniversalSettings configures the secondary, foundation-model classifier.
// An empty API key disables the advanced layer.
type UniversalSettings struct {
	APIKey  string        `yaml:"apikey"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"baseurl"`
	Timeout time.Duration `yaml:"timeout"`
}

// NotificationSettings configures best-effort push alerts. URLs use shoutrrr
// syntax, e.g. slack://token@channel.
type NotificationSettings struct {
	Enabled   bool          `yaml:"enabled"`
	URLs      []string      `yaml:"urls"`
	Timeout   time.Duration `yaml:"timeout"`
	QueueSize int           `yaml:"queuesize"`
}

// InputSettings constrains uploaded images.
type InputSettings struct {
	MaxUploadBytes int64 `yaml:"maxuploadbytes"`
}

// Settings is the root configuration object.
type Settings struct {
	Debug    bool   `yaml:"debug"`
	LogLevel string `yaml:"loglevel"`

	WebServer    WebServerSettings    `yaml:"webserver"`
	Model        ModelSettings        `yaml:"model"`
	Cascade      CascadeSettings      `yaml:"cascade"`
	Store        StoreSettings        `yaml:"store"`
	Universal    UniversalSettings    `yaml:"universal"`
	Notification NotificationSettings `yaml:"notification"`
	Input        InputSettings        `yaml:"input"`

	Version   string `yaml:"-"`
	BuildDate string `yaml:"-"`
}

const (
	// DefaultConfidenceThreshold gates escalation to the advanced layer.
	DefaultConfidenceThreshold = 0.7

	// DefaultPredictionTTL bounds cached prediction records.
	DefaultPredictionTTL = time.Hour

	// DefaultReminderTTL bounds stored medication reminders.
	DefaultReminderTTL = 30 * 24 * time.Hour

	// DefaultMaxUploadBytes is the upload size cap.
	DefaultMaxUploadBytes = 50 * 1024 * 1024

	// DefaultInputSize is the model's square input dimension.
	DefaultInputSize = 224
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("loglevel", "info")

	v.SetDefault("webserver.host", "0.0.0.0")
	v.SetDefault("webserver.port", "8000")
	v.SetDefault("webserver.debug", false)

	v.SetDefault("model.path", "assets/model.tflite")
	v.SetDefault("model.labelpath", "assets/labels.txt")
	v.SetDefault("model.solutionpath", "assets/data.json")
	v.SetDefault("model.inputsize", DefaultInputSize)
	v.SetDefault("model.threads", 0)

	v.SetDefault("cascade.confidencethreshold", DefaultConfidenceThreshold)

	v.SetDefault("store.url", "")
	v.SetDefault("store.timeout", 2*time.Second)
	v.SetDefault("store.predictionttl", DefaultPredictionTTL)
	v.SetDefault("store.reminderttl", DefaultReminderTTL)

	v.SetDefault("universal.apikey", "")
	v.SetDefault("universal.model", "gpt-4o-mini")
	v.SetDefault("universal.baseurl", "")
	v.SetDefault("universal.timeout", 30*time.Second)

	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.urls", []string{})
	v.SetDefault("notification.timeout", 10*time.Second)
	v.SetDefault("notification.queuesize", 64)

	v.SetDefault("input.maxuploadbytes", int64(DefaultMaxUploadBytes))
}

// Load reads settings from the given config file, or from the standard config
// paths when configPath is empty. A missing config file is not an error; the
// defaults plus environment variables apply.
func Load(configPath string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("floraguard")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range configPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.New(fmt.Errorf("reading config: %w", err)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("config_path", configPath).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("unmarshaling config: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := Validate(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks settings invariants that would otherwise surface as
// confusing runtime behavior.
func Validate(s *Settings) error {
	if s.Cascade.ConfidenceThreshold < 0 || s.Cascade.ConfidenceThreshold > 1 {
		return errors.Newf("cascade.confidencethreshold must be in [0,1], got %v", s.Cascade.ConfidenceThreshold).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.Input.MaxUploadBytes <= 0 {
		return errors.Newf("input.maxuploadbytes must be positive, got %d", s.Input.MaxUploadBytes).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.Model.InputSize <= 0 {
		return errors.Newf("model.inputsize must be positive, got %d", s.Model.InputSize).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.Store.PredictionTTL <= 0 || s.Store.ReminderTTL <= 0 {
		return errors.Newf("store TTLs must be positive").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// Save writes the settings to path as YAML, creating parent directories.
// Used to materialize a starter config file on first run.
func Save(s *Settings, path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryConfiguration).Build()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryFileIO).Context("path", path).Build()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryFileIO).Context("path", path).Build()
	}
	return nil
}

// EnsureDefault writes a starter config file to the user config directory
// when no config file exists on any search path. Returns the written path,
// or "" when a config already exists.
func EnsureDefault(s *Settings) (string, error) {
	for _, dir := range configPaths() {
		if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err == nil {
			return "", nil
		}
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.New(err).Component("conf").Category(errors.CategoryFileIO).Build()
	}
	path := filepath.Join(dir, "floraguard", "config.yaml")
	if err := Save(s, path); err != nil {
		return "", err
	}
	return path, nil
}

// configPaths returns the directories searched for config.yaml, in order.
func configPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "floraguard"))
	}
	paths = append(paths, "/etc/floraguard")
	return paths
}
