package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"time"

	"eventcal/internal/models"

	"github.com/go-playground/validator/v10"
)

// UpcomingLimit caps the dashboard's upcoming list.
const UpcomingLimit = 10

// ErrNotFound is returned for a missing event or one owned by somebody else.
var ErrNotFound = errors.New("event not found")

// EventStore is the persistence the event service needs.
type EventStore interface {
	CreateEvent(ctx context.Context, e *models.Event) error
	GetEvent(ctx context.Context, id, ownerID int64) (*models.Event, error)
	UpdateEvent(ctx context.Context, e *models.Event) error
	SetExternalID(ctx context.Context, id, ownerID int64, externalID *string, updatedAt time.Time) error
	MarkReminderTriggered(ctx context.Context, id, ownerID int64, updatedAt time.Time) error
	DeleteEvent(ctx context.Context, id, ownerID int64) error
	ListEvents(ctx context.Context, ownerID int64) ([]*models.Event, error)
	ListEventsBetween(ctx context.Context, ownerID int64, from, to time.Time) ([]*models.Event, error)
	ListUpcomingEvents(ctx context.Context, ownerID int64, after time.Time, limit int) ([]*models.Event, error)
	ListUntriggeredEvents(ctx context.Context, ownerID int64) ([]*models.Event, error)
}

// CalendarSync mirrors events to an external calendar. *syncer.Syncer implements it.
type CalendarSync interface {
	ProviderName() string
	CreateEvent(ctx context.Context, event *models.Event) (string, error)
	UpdateEvent(ctx context.Context, event *models.Event) error
	DeleteEvent(ctx context.Context, externalID string) error
}

// EventInput holds the user-editable fields of an event.
type EventInput struct {
	Title           string    `json:"title" validate:"required,max=200"`
	Description     string    `json:"description"`
	StartDatetime   time.Time `json:"start_datetime" validate:"required"`
	EndDatetime     time.Time `json:"end_datetime" validate:"required,gtfield=StartDatetime"`
	ReminderMinutes int       `json:"reminder_minutes" validate:"reminder"`
}

// ValidationError carries per-field messages keyed by the JSON field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// Result is the outcome of a mutating call. Warning is set when the local
// change succeeded but the external calendar could not be updated.
type Result struct {
	Event   *models.Event
	Message string
	Warning string
}

// Dashboard groups the events shown on the home page.
type Dashboard struct {
	Today            []*models.Event
	Upcoming         []*models.Event
	PendingReminders []*models.Event
}

// FeedItem is one entry of the calendar widget feed.
type FeedItem struct {
	ID                int64  `json:"id"`
	Title             string `json:"title"`
	Start             string `json:"start"`
	End               string `json:"end"`
	Description       string `json:"description"`
	ReminderMinutes   int    `json:"reminder_minutes"`
	ReminderTriggered bool   `json:"reminder_triggered"`
}

type EventService struct {
	logger   *slog.Logger
	store    EventStore
	sync     CalendarSync
	loc      *time.Location
	validate *validator.Validate
	now      func() time.Time
}

func NewEventService(logger *slog.Logger, store EventStore, sync CalendarSync, loc *time.Location) *EventService {
	if loc == nil {
		loc = time.UTC
	}
	return &EventService{
		logger:   logger,
		store:    store,
		sync:     sync,
		loc:      loc,
		validate: newValidator(),
		now:      time.Now,
	}
}

// WithClock overrides the time source used for timestamps.
func (s *EventService) WithClock(clock func() time.Time) *EventService {
	s.now = clock
	return s
}

// Now returns the service clock's current time.
func (s *EventService) Now() time.Time {
	return s.now()
}

// Location returns the time zone used for day boundaries.
func (s *EventService) Location() *time.Location {
	return s.loc
}

// Get returns the owner's event or ErrNotFound.
func (s *EventService) Get(ctx context.Context, ownerID, id int64) (*models.Event, error) {
	event, err := s.store.GetEvent(ctx, id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if event == nil {
		return nil, ErrNotFound
	}
	return event, nil
}

// Create stores the event and, when asked, mirrors it to the external calendar.
// A sync failure leaves the local event in place and is reported in Result.Warning.
func (s *EventService) Create(ctx context.Context, ownerID int64, in EventInput, syncRequested bool) (*Result, error) {
	if err := s.validateInput(&in); err != nil {
		return nil, err
	}

	now := s.now()
	event := &models.Event{
		OwnerID:         ownerID,
		Title:           in.Title,
		Description:     in.Description,
		StartDatetime:   in.StartDatetime,
		EndDatetime:     in.EndDatetime,
		ReminderMinutes: in.ReminderMinutes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	s.logger.Info("Event created", "eventID", event.ID, "ownerID", ownerID)

	res := &Result{Event: event, Message: "Event created successfully!"}
	if !syncRequested {
		return res, nil
	}

	if err := s.pushNew(ctx, event); err != nil {
		var serr syncFailure
		if errors.As(err, &serr) {
			res.Warning = fmt.Sprintf("Event created locally, but %s sync failed: %v", s.sync.ProviderName(), serr.err)
			return res, nil
		}
		return nil, err
	}
	res.Message = fmt.Sprintf("Event created and synced with %s!", s.sync.ProviderName())
	return res, nil
}

// Update applies new field values, then reconciles the external copy:
//
//	no id, no sync:  fields only
//	no id, sync:     create externally and store the id
//	id, sync:        update externally, id unchanged
//	id, no sync:     clear the id locally; the external copy is left as is
func (s *EventService) Update(ctx context.Context, ownerID, id int64, in EventInput, syncRequested bool) (*Result, error) {
	event, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if err := s.validateInput(&in); err != nil {
		return nil, err
	}

	hadExternalID := event.IsSynced()
	event.Title = in.Title
	event.Description = in.Description
	event.StartDatetime = in.StartDatetime
	event.EndDatetime = in.EndDatetime
	event.ReminderMinutes = in.ReminderMinutes
	event.UpdatedAt = s.now()
	if err := s.store.UpdateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to update event: %w", err)
	}
	s.logger.Info("Event updated", "eventID", event.ID, "ownerID", ownerID)

	res := &Result{Event: event, Message: "Event updated successfully!"}
	provider := s.sync.ProviderName()

	switch {
	case syncRequested && hadExternalID:
		if err := s.sync.UpdateEvent(ctx, event); err != nil {
			res.Warning = fmt.Sprintf("Event updated locally, but %s sync failed: %v", provider, err)
			return res, nil
		}
		res.Message = fmt.Sprintf("Event updated and synced with %s!", provider)

	case syncRequested:
		if err := s.pushNew(ctx, event); err != nil {
			var serr syncFailure
			if errors.As(err, &serr) {
				res.Warning = fmt.Sprintf("Event updated locally, but %s sync failed: %v", provider, serr.err)
				return res, nil
			}
			return nil, err
		}
		res.Message = fmt.Sprintf("Event updated and synced with %s!", provider)

	case hadExternalID:
		event.ExternalEventID = nil
		if err := s.store.SetExternalID(ctx, event.ID, ownerID, nil, event.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to clear external id: %w", err)
		}
		s.logger.Info("Event unlinked from external calendar", "eventID", event.ID)
		res.Message = fmt.Sprintf("Event updated. %s sync disabled.", provider)
	}

	return res, nil
}

// Delete removes the event locally. An external copy is deleted first on a
// best-effort basis; failure there only produces a warning.
func (s *EventService) Delete(ctx context.Context, ownerID, id int64) (*Result, error) {
	event, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	res := &Result{Event: event, Message: "Event deleted successfully!"}
	if event.IsSynced() {
		if err := s.sync.DeleteEvent(ctx, event.ExternalID()); err != nil {
			res.Warning = fmt.Sprintf("Event deleted locally, but %s deletion failed: %v", s.sync.ProviderName(), err)
		}
	}

	if err := s.store.DeleteEvent(ctx, event.ID, ownerID); err != nil {
		return nil, fmt.Errorf("failed to delete event: %w", err)
	}
	s.logger.Info("Event deleted", "eventID", event.ID, "ownerID", ownerID)
	return res, nil
}

// TriggerReminder marks the reminder as fired if it is due at now.
func (s *EventService) TriggerReminder(ctx context.Context, ownerID, id int64, now time.Time) (bool, error) {
	event, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return false, err
	}
	if !event.ShouldTrigger(now) {
		return false, nil
	}
	if err := s.store.MarkReminderTriggered(ctx, event.ID, ownerID, s.now()); err != nil {
		return false, fmt.Errorf("failed to mark reminder: %w", err)
	}
	return true, nil
}

// Dashboard returns today's events (local calendar day), the next upcoming
// events and the reminders due at now.
func (s *EventService) Dashboard(ctx context.Context, ownerID int64, now time.Time) (*Dashboard, error) {
	local := now.In(s.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)

	today, err := s.store.ListEventsBetween(ctx, ownerID, midnight, midnight.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to list today's events: %w", err)
	}
	upcoming, err := s.store.ListUpcomingEvents(ctx, ownerID, now, UpcomingLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming events: %w", err)
	}
	untriggered, err := s.store.ListUntriggeredEvents(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reminders: %w", err)
	}

	pending := make([]*models.Event, 0)
	for _, e := range untriggered {
		if e.ShouldTrigger(now) {
			pending = append(pending, e)
		}
	}

	return &Dashboard{
		Today:            nonNil(today),
		Upcoming:         nonNil(upcoming),
		PendingReminders: pending,
	}, nil
}

// Feed returns every event of the owner, ordered by start time.
func (s *EventService) Feed(ctx context.Context, ownerID int64) ([]FeedItem, error) {
	events, err := s.store.ListEvents(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	items := make([]FeedItem, 0, len(events))
	for _, e := range events {
		items = append(items, FeedItem{
			ID:                e.ID,
			Title:             e.Title,
			Start:             e.StartDatetime.In(s.loc).Format(time.RFC3339),
			End:               e.EndDatetime.In(s.loc).Format(time.RFC3339),
			Description:       e.Description,
			ReminderMinutes:   e.ReminderMinutes,
			ReminderTriggered: e.ReminderTriggered,
		})
	}
	return items, nil
}

// syncFailure marks an external error that should become a warning.
type syncFailure struct{ err error }

func (e syncFailure) Error() string { return e.err.Error() }
func (e syncFailure) Unwrap() error { return e.err }

// pushNew creates the external copy and stores its id. External errors are
// returned as syncFailure, storage errors as is.
func (s *EventService) pushNew(ctx context.Context, event *models.Event) error {
	externalID, err := s.sync.CreateEvent(ctx, event)
	if err != nil {
		return syncFailure{err: err}
	}
	if err := s.store.SetExternalID(ctx, event.ID, event.OwnerID, &externalID, event.UpdatedAt); err != nil {
		return fmt.Errorf("failed to store external id: %w", err)
	}
	event.ExternalEventID = &externalID
	return nil
}

func (s *EventService) validateInput(in *EventInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.ReminderMinutes == 0 {
		in.ReminderMinutes = models.DefaultReminderMinutes
	}

	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate input: %w", err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return &ValidationError{Fields: fields}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("reminder", func(fl validator.FieldLevel) bool {
		return models.ValidReminderMinutes(int(fl.Field().Int()))
	})
	return v
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "max":
		return fmt.Sprintf("Ensure this value has at most %s characters.", fe.Param())
	case "min":
		return fmt.Sprintf("Ensure this value has at least %s characters.", fe.Param())
	case "gtfield":
		return "End date and time must be after start date and time."
	case "oneof", "reminder":
		return "Select a valid choice."
	case "alphanum":
		return "Use letters and digits only."
	default:
		return "Enter a valid value."
	}
}

func nonNil(events []*models.Event) []*models.Event {
	if events == nil {
		return []*models.Event{}
	}
	return events
}
