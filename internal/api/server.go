package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/floraguard/floraguard-go/internal/analysis"
	"github.com/floraguard/floraguard-go/internal/cache"
	"github.com/floraguard/floraguard-go/internal/conf"
	"github.com/floraguard/floraguard-go/internal/errors"
	"github.com/floraguard/floraguard-go/internal/floraguard"
	"github.com/floraguard/floraguard-go/internal/imageproc"
	"github.com/floraguard/floraguard-go/internal/logging"
	"github.com/floraguard/floraguard-go/internal/notification"
	"github.com/floraguard/floraguard-go/internal/observability"
	"github.com/floraguard/floraguard-go/internal/reminder"
	"github.com/floraguard/floraguard-go/internal/universal"
)

// Server owns the HTTP stack and the services behind it.
type Server struct {
	echo       *echo.Echo
	settings   *conf.Settings
	controller *Controller
	classifier *floraguard.Classifier
	dispatcher *notification.Dispatcher
	log        *slog.Logger
}

// NewServer builds every service from settings and wires the controller.
// The classifier must load; everything else degrades when unconfigured or
// unreachable.
func NewServer(settings *conf.Settings) (*Server, error) {
	log := logging.ForService("server")

	classifier, err := floraguard.New(settings)
	if err != nil {
		return nil, err
	}

	secondary := universal.New(settings)
	if !secondary.Available() {
		log.Warn("universal classifier not configured, advanced layer disabled")
	}

	metrics := observability.NewMetrics()

	var kv cache.KV
	if settings.Store.URL != "" {
		redisKV, err := cache.Connect(settings.Store.URL, settings.Store.Timeout)
		if err != nil {
			log.Warn("result store unreachable, caching disabled", "error", err)
		} else {
			kv = redisKV
		}
	}
	resultCache := cache.New(kv, settings.Store.PredictionTTL, metrics)
	reminders := reminder.New(kv, settings.Store.ReminderTTL)

	var sender notification.Sender
	if settings.Notification.Enabled {
		s, err := notification.NewShoutrrrSender(settings.Notification.URLs, settings.Notification.Timeout)
		if err != nil {
			log.Warn("notification sender misconfigured, alerts disabled", "error", err)
		} else {
			sender = s
		}
	}
	dispatcher := notification.NewDispatcher(sender, settings.Notification.QueueSize, metrics)

	processor := analysis.New(classifier, secondary, settings.Cascade.ConfidenceThreshold, metrics)
	normalizer := imageproc.New(settings.Model.InputSize, settings.Input.MaxUploadBytes)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
	}))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dM", settings.Input.MaxUploadBytes/(1024*1024)+1)))

	controller := New(e, settings, Dependencies{
		Processor:  processor,
		Model:      classifier,
		Enricher:   secondary,
		Cache:      resultCache,
		Reminders:  reminders,
		Dispatcher: dispatcher,
		Normalizer: normalizer,
		Metrics:    metrics,
	})

	return &Server{
		echo:       e,
		settings:   settings,
		controller: controller,
		classifier: classifier,
		dispatcher: dispatcher,
		log:        log,
	}, nil
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.settings.WebServer.Host, s.settings.WebServer.Port)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.New(fmt.Errorf("http server: %w", err)).
				Component("api").
				Category(errors.CategoryNetwork).
				Build()
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("graceful shutdown failed", "error", err)
	}
	s.dispatcher.Stop()
	s.classifier.Close()
	return nil
}
