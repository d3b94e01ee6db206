package api

import (
	"encoding/json"
	"net/http"
	"time"

	"eventcal/internal/models"
)

type APIResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Warning string            `json:"warning,omitempty"`
	Data    any               `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type EventResponse struct {
	ID                int64   `json:"id"`
	Title             string  `json:"title"`
	Description       string  `json:"description"`
	StartDatetime     string  `json:"start_datetime"`
	EndDatetime       string  `json:"end_datetime"`
	ReminderMinutes   int     `json:"reminder_minutes"`
	ReminderTriggered bool    `json:"reminder_triggered"`
	ExternalEventID   *string `json:"external_event_id"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

type EventDetailResponse struct {
	EventResponse
	ReminderDueAt string `json:"reminder_due_at"`
	ShouldTrigger bool   `json:"should_trigger"`
}

type DashboardResponse struct {
	Today            []EventResponse `json:"today"`
	Upcoming         []EventResponse `json:"upcoming"`
	PendingReminders []EventResponse `json:"pending_reminders"`
}

// FormValues mirrors the fields an edit form is prefilled with.
type FormValues struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	StartDatetime   string `json:"start_datetime"`
	EndDatetime     string `json:"end_datetime"`
	ReminderMinutes int    `json:"reminder_minutes"`
	SyncWithGoogle  bool   `json:"sync_with_google"`
}

type FormResponse struct {
	Values          FormValues              `json:"values"`
	ReminderChoices []models.ReminderChoice `json:"reminder_choices"`
	SyncEnabled     bool                    `json:"sync_enabled"`
	SyncProvider    string                  `json:"sync_provider"`
	Event           *EventResponse          `json:"event,omitempty"`
}

func toEventResponse(e *models.Event, loc *time.Location) EventResponse {
	return EventResponse{
		ID:                e.ID,
		Title:             e.Title,
		Description:       e.Description,
		StartDatetime:     e.StartDatetime.In(loc).Format(time.RFC3339),
		EndDatetime:       e.EndDatetime.In(loc).Format(time.RFC3339),
		ReminderMinutes:   e.ReminderMinutes,
		ReminderTriggered: e.ReminderTriggered,
		ExternalEventID:   e.ExternalEventID,
		CreatedAt:         e.CreatedAt.In(loc).Format(time.RFC3339),
		UpdatedAt:         e.UpdatedAt.In(loc).Format(time.RFC3339),
	}
}

func toEventResponses(events []*models.Event, loc *time.Location) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toEventResponse(e, loc))
	}
	return out
}

func jsonResponse(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func jsonError(w http.ResponseWriter, err string, status int) {
	jsonResponse(w, status, APIResponse{Success: false, Error: err})
}
