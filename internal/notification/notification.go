// Package notification dispatches push alerts for disease detections and
// reminder confirmations. Delivery is best effort: enqueueing never blocks a
// request, and a full queue drops the alert rather than stalling inference.
package notification

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"
	"sync"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/floraguard/floraguard-go/internal/analysis"
	"github.com/floraguard/floraguard-go/internal/errors"
	"github.com/floraguard/floraguard-go/internal/logging"
	"github.com/floraguard/floraguard-go/internal/observability"
)

// Severity tiers for detection alerts.
const (
	SeverityLow      = "LOW CONFIDENCE"
	SeverityHigh     = "HIGH PRIORITY"
	SeverityDetected = "DETECTED"
)

const defaultQueueSize = 64

// Sender delivers a single assembled message.
type Sender interface {
	Send(title, body string) error
}

// ShoutrrrSender sends via nicholas-fedor/shoutrrr. One sender serves all
// configured service URLs.
type ShoutrrrSender struct {
	sender  *router.ServiceRouter
	timeout time.Duration
}

// NewShoutrrrSender validates the service URLs and builds a sender.
func NewShoutrrrSender(urls []string, timeout time.Duration) (*ShoutrrrSender, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(fmt.Errorf("creating notification sender: %w", err)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrSender{sender: sender, timeout: timeout}, nil
}

// Send delivers body to every configured service.
func (s *ShoutrrrSender) Send(title, body string) error {
	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}
	for _, err := range s.sender.Send(body, &params) {
		if err != nil {
			return errors.New(err).
				Component("notification").
				Category(errors.CategoryNotificationUnavailable).
				Build()
		}
	}
	return nil
}

type message struct {
	title string
	body  string
}

// Dispatcher queues messages and delivers them on a background worker.
type Dispatcher struct {
	sender  Sender
	queue   chan message
	wg      sync.WaitGroup
	metrics *observability.Metrics
	log     *slog.Logger

	closeOnce sync.Once
}

// NewDispatcher starts the delivery worker. A nil sender disables dispatch
// entirely; every notify call becomes a no-op. queueSize <= 0 selects the
// default.
func NewDispatcher(sender Sender, queueSize int, metrics *observability.Metrics) *Dispatcher {
	d := &Dispatcher{
		sender:  sender,
		metrics: metrics,
		log:     logging.ForService("notification"),
	}
	if sender == nil {
		return d
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	d.queue = make(chan message, queueSize)
	d.wg.Add(1)
	go d.worker()
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for msg := range d.queue {
		if err := d.sender.Send(msg.title, msg.body); err != nil {
			d.log.Warn("notification delivery failed", "title", msg.title, "error", err)
			d.metrics.NotificationsDropped.Inc()
			continue
		}
		d.metrics.NotificationsSent.Inc()
	}
}

// Stop drains the queue and waits for the worker to finish.
func (d *Dispatcher) Stop() {
	if d.queue == nil {
		return
	}
	d.closeOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}

// ShouldNotify decides whether a prediction warrants an alert. Advanced layer
// results always notify; standard results only when confident or when the
// label itself names a disease.
func ShouldNotify(disease string, confidence float64, layer analysis.Layer) bool {
	if layer == analysis.LayerAdvanced {
		return true
	}
	return confidence > 0.8 || strings.Contains(strings.ToLower(disease), "disease")
}

// SeverityFor maps a prediction to its alert tier.
func SeverityFor(disease string, confidence float64) string {
	switch {
	case confidence < 0.5:
		return SeverityLow
	case confidence > 0.9 || strings.Contains(strings.ToLower(disease), "emergency"):
		return SeverityHigh
	default:
		return SeverityDetected
	}
}

// NotifyDetection enqueues a detection alert. Returns false when the queue is
// full or dispatch is disabled.
func (d *Dispatcher) NotifyDetection(disease string, confidence float64, layer analysis.Layer, fingerprint string) bool {
	if d.queue == nil {
		return false
	}
	severity := SeverityFor(disease, confidence)
	title := fmt.Sprintf("[%s] %s", severity, disease)
	body := fmt.Sprintf("Detected %s with %.1f%% confidence (%s layer). Image %s.",
		disease, confidence*100, layer, shortFingerprint(fingerprint))
	return d.enqueue(message{title: title, body: body})
}

// NotifyReminder enqueues a reminder-created confirmation.
func (d *Dispatcher) NotifyReminder(medication, dosage, frequency, disease string) bool {
	if d.queue == nil {
		return false
	}
	title := "Treatment reminder set"
	body := fmt.Sprintf("Apply %s (%s, %s) for %s.", medication, dosage, frequency, disease)
	return d.enqueue(message{title: title, body: body})
}

func (d *Dispatcher) enqueue(msg message) bool {
	select {
	case d.queue <- msg:
		return true
	default:
		d.log.Warn("notification queue full, dropping", "title", msg.title)
		d.metrics.NotificationsDropped.Inc()
		return false
	}
}

func shortFingerprint(fp string) string {
	if len(fp) > 8 {
		return fp[:8]
	}
	return fp
}
