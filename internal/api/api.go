// Package api exposes the HTTP surface: prediction, enrichment, reminders,
// cache statistics, and health. Handlers orchestrate the cache-around-cascade
// flow; the inference packages stay transport-agnostic.
package api

import (
	"crypto/rand"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/floraguard/floraguard-go/internal/analysis"
	"github.com/floraguard/floraguard-go/internal/cache"
	"github.com/floraguard/floraguard-go/internal/conf"
	"github.com/floraguard/floraguard-go/internal/errors"
	"github.com/floraguard/floraguard-go/internal/imageproc"
	"github.com/floraguard/floraguard-go/internal/logging"
	"github.com/floraguard/floraguard-go/internal/notification"
	"github.com/floraguard/floraguard-go/internal/observability"
	"github.com/floraguard/floraguard-go/internal/reminder"
	"github.com/floraguard/floraguard-go/internal/universal"
)

// ModelInfo reports classifier artifact counts for the health endpoint.
type ModelInfo interface {
	LabelCount() int
	SolutionCount() int
}

// Controller manages the API routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Settings *conf.Settings

	Processor  *analysis.Processor
	Model      ModelInfo
	Enricher   *universal.Client
	Cache      *cache.Cache
	Reminders  *reminder.Service
	Dispatcher *notification.Dispatcher
	Normalizer *imageproc.Normalizer

	metrics   *observability.Metrics
	log       *slog.Logger
	startTime time.Time
}

// New wires the controller into e and registers routes under /api/v1.
func New(e *echo.Echo, settings *conf.Settings, deps Dependencies) *Controller {
	c := &Controller{
		Echo:       e,
		Settings:   settings,
		Processor:  deps.Processor,
		Model:      deps.Model,
		Enricher:   deps.Enricher,
		Cache:      deps.Cache,
		Reminders:  deps.Reminders,
		Dispatcher: deps.Dispatcher,
		Normalizer: deps.Normalizer,
		metrics:    deps.Metrics,
		log:        logging.ForService("api"),
		startTime:  time.Now(),
	}
	c.Group = e.Group("/api/v1")
	c.initRoutes()
	return c
}

// Dependencies carries the services the controller orchestrates.
type Dependencies struct {
	Processor  *analysis.Processor
	Model      ModelInfo
	Enricher   *universal.Client
	Cache      *cache.Cache
	Reminders  *reminder.Service
	Dispatcher *notification.Dispatcher
	Normalizer *imageproc.Normalizer
	Metrics    *observability.Metrics
}

func (c *Controller) initRoutes() {
	c.Group.POST("/predict", c.Predict)
	c.Group.GET("/health", c.HealthCheck)
	c.Group.GET("/enrich/:diseaseName", c.EnrichDisease)
	c.Group.POST("/reminder", c.CreateReminder)
	c.Group.GET("/reminders/:userId", c.ListReminders)
	c.Group.DELETE("/reminder/:reminderId", c.DeleteReminder)
	c.Group.GET("/cache/stats", c.CacheStats)

	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse builds an error envelope with a fresh correlation id.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError logs err and returns the standard error envelope with code.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)
	c.log.Error("request failed",
		"correlation_id", resp.CorrelationID,
		"message", message,
		"error", resp.Error,
		"code", code,
		"path", ctx.Request().URL.Path,
		"method", ctx.Request().Method,
		"ip", ctx.RealIP(),
	)
	return ctx.JSON(code, resp)
}

// statusForCategory maps error taxonomy categories to HTTP status codes.
func statusForCategory(err error) int {
	switch errors.GetCategory(err) {
	case errors.CategoryInvalidInput:
		return http.StatusBadRequest
	case errors.CategoryModelUnavailable, errors.CategoryModelInit:
		return http.StatusInternalServerError
	case errors.CategoryCacheUnavailable:
		return http.StatusServiceUnavailable
	case errors.CategorySecondaryQuota, errors.CategorySecondaryUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HealthResponse reports service and model status.
type HealthResponse struct {
	Status         string  `json:"status"`
	ModelLoaded    bool    `json:"model_loaded"`
	LabelsCount    int     `json:"labels_count"`
	SolutionsCount int     `json:"solutions_count"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// HealthCheck reports model readiness and uptime.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	loaded := c.Model != nil
	resp := HealthResponse{
		Status:        "healthy",
		ModelLoaded:   loaded,
		UptimeSeconds: time.Since(c.startTime).Seconds(),
	}
	if !loaded {
		resp.Status = "unhealthy"
	} else {
		resp.LabelsCount = c.Model.LabelCount()
		resp.SolutionsCount = c.Model.SolutionCount()
	}
	return ctx.JSON(http.StatusOK, resp)
}

// CacheStats exposes store availability and key counts. Never errors; an
// unreachable store degrades to available:false.
func (c *Controller) CacheStats(ctx echo.Context) error {
	if c.Cache == nil {
		return ctx.JSON(http.StatusOK, cache.Stats{Available: false})
	}
	return ctx.JSON(http.StatusOK, c.Cache.Stats(ctx.Request().Context()))
}
