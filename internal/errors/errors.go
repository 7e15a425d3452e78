// Package errors provides centralized error handling with category metadata
// used to pick degrade-or-fail behavior and HTTP status codes.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"time"
)

// Category classifies an error for routing and reporting.
type Category string

const (
	// CategoryInvalidInput covers client mistakes: bad file type, oversized
	// upload, bytes that do not decode as an image. Surfaced as 4xx.
	CategoryInvalidInput Category = "invalid-input"

	// CategoryModelInit covers failures while loading the classifier model,
	// labels or solution table at startup.
	CategoryModelInit Category = "model-initialization"

	// CategoryModelUnavailable marks requests made while the local model was
	// never successfully loaded. Fail-fast, requires process restart.
	CategoryModelUnavailable Category = "model-unavailable"

	// CategorySecondaryUnavailable covers the universal classifier being
	// unconfigured, timed out or returning unparseable output. Always soft.
	CategorySecondaryUnavailable Category = "secondary-unavailable"

	// CategorySecondaryQuota marks quota or rate-limit failures from the
	// universal classifier. Soft, but logged distinctly because retry is
	// expected once quota resets.
	CategorySecondaryQuota Category = "secondary-quota"

	// CategoryCacheUnavailable covers an unreachable result store. Soft.
	CategoryCacheUnavailable Category = "cache-unavailable"

	// CategoryNotificationUnavailable covers an unreachable push channel. Soft.
	CategoryNotificationUnavailable Category = "notification-unavailable"

	CategoryConfiguration Category = "configuration"
	CategoryFileIO        Category = "file-io"
	CategoryNetwork       Category = "network"
	CategoryGeneric       Category = "generic"
)

// EnhancedError wraps an error with a component, a category and free-form
// context values.
type EnhancedError struct {
	Err       error
	Component string
	Category  Category
	Context   map[string]any
	Timestamp time.Time
}

func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches two enhanced errors by category so callers can branch on
// category sentinels with the standard errors.Is.
func (ee *EnhancedError) Is(target error) bool {
	var other *EnhancedError
	if stderrors.As(target, &other) {
		return ee.Category == other.Category
	}
	return stderrors.Is(ee.Err, target)
}

// GetContext returns a copy of the context map.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	out := make(map[string]any, len(ee.Context))
	maps.Copy(out, ee.Context)
	return out
}

// GetCategory returns the category of err, or CategoryGeneric when err carries
// no category metadata.
func GetCategory(err error) Category {
	var ee *EnhancedError
	if stderrors.As(err, &ee) {
		return ee.Category
	}
	return CategoryGeneric
}

// HasCategory reports whether err carries the given category.
func HasCategory(err error, cat Category) bool {
	return err != nil && GetCategory(err) == cat
}

// Builder provides a fluent interface for attaching metadata to an error.
type Builder struct {
	err       error
	component string
	category  Category
	context   map[string]any
}

// New starts a builder around an existing error.
func New(err error) *Builder {
	return &Builder{err: err}
}

// Newf starts a builder around a freshly formatted error.
func Newf(format string, args ...any) *Builder {
	return New(fmt.Errorf(format, args...))
}

// Component names the subsystem where the error occurred.
func (b *Builder) Component(component string) *Builder {
	b.component = component
	return b
}

// Category assigns the error category.
func (b *Builder) Category(category Category) *Builder {
	b.category = category
	return b
}

// Context attaches a key/value pair for logs and error responses.
func (b *Builder) Context(key string, value any) *Builder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build finalizes the enhanced error.
func (b *Builder) Build() error {
	if b.category == "" {
		b.category = CategoryGeneric
	}
	return &EnhancedError{
		Err:       b.err,
		Component: b.component,
		Category:  b.category,
		Context:   b.context,
		Timestamp: time.Now(),
	}
}

// Standard library pass-throughs so call sites only import this package.

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Unwrap(err error) error { return stderrors.Unwrap(err) }
