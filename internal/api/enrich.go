package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// EnrichDisease returns a structured report for a disease name. Any failure
// to produce a report, including an unconfigured secondary model, maps to
// 404 so clients fall back to their static database.
func (c *Controller) EnrichDisease(ctx echo.Context) error {
	diseaseName := ctx.Param("diseaseName")

	if c.Enricher == nil || !c.Enricher.Available() {
		return c.HandleError(ctx, nil, "Could not enrich disease information", http.StatusNotFound)
	}

	detail, err := c.Enricher.Enrich(ctx.Request().Context(), diseaseName)
	if err != nil {
		return c.HandleError(ctx, err, "Could not enrich disease information", http.StatusNotFound)
	}
	return ctx.JSON(http.StatusOK, detail)
}
