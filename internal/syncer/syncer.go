package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eventcal/internal/models"
)

// DefaultTimeout bounds every call to the external calendar.
const DefaultTimeout = 15 * time.Second

var (
	// ErrSyncFailed matches every error returned by Syncer.
	ErrSyncFailed = errors.New("external calendar sync failed")
	// ErrNotFound is returned by providers when the external event no longer exists.
	ErrNotFound = errors.New("external event not found")
	// ErrNotConfigured is the cause reported when no provider is set up.
	ErrNotConfigured = errors.New("external calendar sync is not configured")
)

// Provider mirrors events to an external calendar.
// Implementations manage their own credentials before each call.
type Provider interface {
	Name() string
	CreateEvent(ctx context.Context, event *models.Event) (string, error)
	UpdateEvent(ctx context.Context, event *models.Event) error
	DeleteEvent(ctx context.Context, externalID string) error
}

// Error wraps a provider failure. errors.Is(err, ErrSyncFailed) is always true.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to %s external event: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrSyncFailed, e.Err}
}

// Syncer applies a timeout, logging and a uniform error type around a Provider.
type Syncer struct {
	logger   *slog.Logger
	provider Provider
	timeout  time.Duration
}

// NewSyncer creates a new Syncer. A nil provider makes every call fail with ErrNotConfigured.
func NewSyncer(logger *slog.Logger, provider Provider, timeout time.Duration) *Syncer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Syncer{logger: logger, provider: provider, timeout: timeout}
}

// Enabled reports whether a provider is configured.
func (s *Syncer) Enabled() bool {
	return s != nil && s.provider != nil
}

// ProviderName returns a display name for messages, e.g. "Google Calendar".
func (s *Syncer) ProviderName() string {
	if !s.Enabled() {
		return "external calendar"
	}
	return s.provider.Name()
}

// CreateEvent mirrors a new event and returns the external id.
func (s *Syncer) CreateEvent(ctx context.Context, event *models.Event) (string, error) {
	if !s.Enabled() {
		return "", &Error{Op: "create", Err: ErrNotConfigured}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	id, err := s.provider.CreateEvent(ctx, event)
	if err != nil {
		s.logger.Warn("Failed to create external event", "eventID", event.ID, "provider", s.provider.Name(), "error", err)
		return "", &Error{Op: "create", Err: err}
	}
	s.logger.Info("Created external event", "eventID", event.ID, "externalID", id)
	return id, nil
}

// UpdateEvent pushes the event's current fields to its external copy.
func (s *Syncer) UpdateEvent(ctx context.Context, event *models.Event) error {
	if !s.Enabled() {
		return &Error{Op: "update", Err: ErrNotConfigured}
	}
	if !event.IsSynced() {
		return &Error{Op: "update", Err: errors.New("event has no external event id")}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.provider.UpdateEvent(ctx, event); err != nil {
		s.logger.Warn("Failed to update external event", "eventID", event.ID, "externalID", event.ExternalID(), "error", err)
		return &Error{Op: "update", Err: err}
	}
	s.logger.Info("Updated external event", "eventID", event.ID, "externalID", event.ExternalID())
	return nil
}

// DeleteEvent removes an external event. An already deleted event is not an error.
func (s *Syncer) DeleteEvent(ctx context.Context, externalID string) error {
	if !s.Enabled() {
		return &Error{Op: "delete", Err: ErrNotConfigured}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.provider.DeleteEvent(ctx, externalID)
	if errors.Is(err, ErrNotFound) {
		s.logger.Debug("External event already gone", "externalID", externalID)
		return nil
	}
	if err != nil {
		s.logger.Warn("Failed to delete external event", "externalID", externalID, "error", err)
		return &Error{Op: "delete", Err: err}
	}
	s.logger.Info("Deleted external event", "externalID", externalID)
	return nil
}
