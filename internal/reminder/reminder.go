// Package reminder manages medication reminders in the shared key-value
// store. Unlike prediction caching, reminder CRUD is a user-facing feature:
// store unavailability is surfaced to the caller instead of silently
// degrading.
package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/floraguard/floraguard-go/internal/cache"
	"github.com/floraguard/floraguard-go/internal/errors"
	"github.com/floraguard/floraguard-go/internal/logging"
)

// Record is a stored medication reminder.
type Record struct {
	ID         string    `json:"id"`
	Medication string    `json:"medication"`
	Dosage     string    `json:"dosage"`
	Frequency  string    `json:"frequency"`
	Disease    string    `json:"disease"`
	UserID     string    `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	Active     bool      `json:"active"`
}

// ErrNotFound marks deletion of a reminder id that does not exist.
var ErrNotFound = errors.Newf("reminder not found").Category(errors.CategoryInvalidInput).Build()

// Service persists reminders with a TTL (30 days by default).
type Service struct {
	kv  cache.KV
	ttl time.Duration
	log *slog.Logger

	// now is swappable for deterministic ids in tests.
	now func() time.Time
}

// New builds a reminder service over kv, which may be nil (store disabled).
func New(kv cache.KV, ttl time.Duration) *Service {
	return &Service{
		kv:  kv,
		ttl: ttl,
		log: logging.ForService("reminder"),
		now: time.Now,
	}
}

// Create stores a reminder and returns it with its synthesized id. The id is
// time-based plus user id, unique enough for a single-process store
// namespace.
func (s *Service) Create(ctx context.Context, medication, dosage, frequency, disease, userID string) (*Record, error) {
	if err := s.requireStore(); err != nil {
		return nil, err
	}
	if userID == "" {
		userID = "default"
	}

	rec := &Record{
		ID:         fmt.Sprintf("rem_%d_%s", s.now().Unix(), userID),
		Medication: medication,
		Dosage:     dosage,
		Frequency:  frequency,
		Disease:    disease,
		UserID:     userID,
		CreatedAt:  s.now(),
		Active:     true,
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.New(err).Component("reminder").Category(errors.CategoryGeneric).Build()
	}
	if err := s.kv.Set(ctx, cache.ReminderKeyPrefix+rec.ID, string(raw), s.ttl); err != nil {
		return nil, errors.New(fmt.Errorf("storing reminder: %w", err)).
			Component("reminder").
			Category(errors.CategoryCacheUnavailable).
			Build()
	}

	s.log.Info("reminder stored", "id", rec.ID, "medication", medication)
	return rec, nil
}

// ListByUser returns all active reminders for a user.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*Record, error) {
	if err := s.requireStore(); err != nil {
		return nil, err
	}
	if userID == "" {
		userID = "default"
	}

	keys, err := s.kv.Keys(ctx, cache.ReminderKeyPrefix+"rem_*_"+userID)
	if err != nil {
		return nil, errors.New(fmt.Errorf("listing reminders: %w", err)).
			Component("reminder").
			Category(errors.CategoryCacheUnavailable).
			Build()
	}

	records := make([]*Record, 0, len(keys))
	for _, key := range keys {
		raw, found, err := s.kv.Get(ctx, key)
		if err != nil || !found {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.log.Warn("skipping corrupt reminder entry", "key", key, "error", err)
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// Delete removes a reminder by id. Returns ErrNotFound when the id does not
// exist.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.requireStore(); err != nil {
		return err
	}

	n, err := s.kv.Del(ctx, cache.ReminderKeyPrefix+id)
	if err != nil {
		return errors.New(fmt.Errorf("deleting reminder: %w", err)).
			Component("reminder").
			Category(errors.CategoryCacheUnavailable).
			Build()
	}
	if n == 0 {
		return ErrNotFound
	}
	s.log.Info("reminder deleted", "id", id)
	return nil
}

// Available reports whether the backing store is reachable.
func (s *Service) Available(ctx context.Context) bool {
	return s.kv != nil && s.kv.Ping(ctx) == nil
}

func (s *Service) requireStore() error {
	if s.kv == nil {
		return errors.Newf("reminder store not configured").
			Component("reminder").
			Category(errors.CategoryCacheUnavailable).
			Build()
	}
	return nil
}
