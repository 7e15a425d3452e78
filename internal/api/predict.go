package api

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/floraguard/floraguard-go/internal/analysis"
	"github.com/floraguard/floraguard-go/internal/cache"
	"github.com/floraguard/floraguard-go/internal/errors"
	"github.com/floraguard/floraguard-go/internal/notification"
)

// Predict runs the full prediction flow for an uploaded leaf image:
// validate, fingerprint, replay from cache if possible, otherwise run the
// cascade, store the result and fire a detection alert.
func (c *Controller) Predict(ctx echo.Context) error {
	start := time.Now()

	if c.Processor == nil {
		return c.HandleError(ctx, nil, "Model not loaded", http.StatusInternalServerError)
	}

	header, err := ctx.FormFile("file")
	if err != nil {
		return c.HandleError(ctx, err, "Missing file upload", http.StatusBadRequest)
	}
	if err := c.Normalizer.ValidateFilename(header.Filename); err != nil {
		return c.HandleError(ctx, err, "Unsupported file type", http.StatusBadRequest)
	}
	if err := c.Normalizer.ValidateSize(header.Size); err != nil {
		return c.HandleError(ctx, err, "File too large", http.StatusRequestEntityTooLarge)
	}

	src, err := header.Open()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read upload", http.StatusInternalServerError)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read upload", http.StatusInternalServerError)
	}
	// Multipart size headers are client-supplied; re-check the actual bytes.
	if err := c.Normalizer.ValidateSize(int64(len(data))); err != nil {
		return c.HandleError(ctx, err, "File too large", http.StatusRequestEntityTooLarge)
	}

	c.log.Info("prediction request", "filename", header.Filename, "bytes", len(data))

	reqCtx := ctx.Request().Context()
	fingerprint := cache.Fingerprint(data)

	// A replayed record already alerted when it was first computed; the
	// dispatcher runs only on the miss branch.
	if c.Cache != nil {
		if rec, ok := c.Cache.Get(reqCtx, fingerprint, start); ok {
			return ctx.JSON(http.StatusOK, rec)
		}
	}

	tensor, err := c.Normalizer.Normalize(data)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid image file", http.StatusBadRequest)
	}

	rec, err := c.Processor.Process(reqCtx, data, tensor, start)
	if err != nil {
		if errors.HasCategory(err, errors.CategoryInvalidInput) {
			return c.HandleError(ctx, err, "Invalid image file", http.StatusBadRequest)
		}
		return c.HandleError(ctx, err, "Prediction failed", statusForCategory(err))
	}

	if c.Cache != nil {
		c.Cache.Put(reqCtx, fingerprint, rec)
	}
	c.notifyDetection(rec.Disease, rec.Confidence, rec.Layer, fingerprint)

	return ctx.JSON(http.StatusOK, rec)
}

func (c *Controller) notifyDetection(disease string, confidence float64, layer analysis.Layer, fingerprint string) {
	if c.Dispatcher == nil || !notification.ShouldNotify(disease, confidence, layer) {
		return
	}
	c.Dispatcher.NotifyDetection(disease, confidence, layer, fingerprint)
}
