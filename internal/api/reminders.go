package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/floraguard/floraguard-go/internal/errors"
	"github.com/floraguard/floraguard-go/internal/reminder"
)

// ReminderRequest is the create-reminder payload.
type ReminderRequest struct {
	Medication string `json:"medication"`
	Dosage     string `json:"dosage"`
	Frequency  string `json:"frequency"`
	Disease    string `json:"disease"`
	UserID     string `json:"user_id"`
}

// ReminderResponse confirms reminder creation.
type ReminderResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ReminderID string `json:"reminder_id,omitempty"`
}

// CreateReminder stores a medication reminder and fires a confirmation alert.
func (c *Controller) CreateReminder(ctx echo.Context) error {
	var req ReminderRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid reminder payload", http.StatusBadRequest)
	}
	if req.Medication == "" || req.Dosage == "" || req.Frequency == "" {
		return c.HandleError(ctx, nil, "medication, dosage and frequency are required", http.StatusBadRequest)
	}

	rec, err := c.Reminders.Create(ctx.Request().Context(), req.Medication, req.Dosage, req.Frequency, req.Disease, req.UserID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create reminder", statusForCategory(err))
	}

	if c.Dispatcher != nil {
		c.Dispatcher.NotifyReminder(rec.Medication, rec.Dosage, rec.Frequency, rec.Disease)
	}

	return ctx.JSON(http.StatusOK, ReminderResponse{
		Success:    true,
		Message:    "Reminder created",
		ReminderID: rec.ID,
	})
}

// ReminderListResponse wraps a user's active reminders.
type ReminderListResponse struct {
	Reminders []*reminder.Record `json:"reminders"`
	Count     int                `json:"count"`
}

// ListReminders returns all active reminders for a user.
func (c *Controller) ListReminders(ctx echo.Context) error {
	userID := ctx.Param("userId")

	records, err := c.Reminders.ListByUser(ctx.Request().Context(), userID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to retrieve reminders", statusForCategory(err))
	}
	return ctx.JSON(http.StatusOK, ReminderListResponse{Reminders: records, Count: len(records)})
}

// DeleteReminder removes a reminder by id.
func (c *Controller) DeleteReminder(ctx echo.Context) error {
	id := ctx.Param("reminderId")

	if err := c.Reminders.Delete(ctx.Request().Context(), id); err != nil {
		if errors.Is(err, reminder.ErrNotFound) {
			return c.HandleError(ctx, err, "Reminder not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "Failed to delete reminder", statusForCategory(err))
	}
	return ctx.JSON(http.StatusOK, map[string]any{"success": true, "message": "Reminder deleted"})
}
