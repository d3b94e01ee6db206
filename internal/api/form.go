package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"eventcal/internal/service"
)

// Layouts accepted for start and end times, besides RFC 3339. They are read in the configured zone.
var localLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// FormLayout matches the HTML datetime-local input.
const FormLayout = "2006-01-02T15:04"

type eventRequest struct {
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	StartDatetime   string      `json:"start_datetime"`
	EndDatetime     string      `json:"end_datetime"`
	ReminderMinutes json.Number `json:"reminder_minutes"`
	SyncWithGoogle  bool        `json:"sync_with_google"`
}

// decodeEvent reads an event from a JSON or form body. Malformed values are
// reported as a *service.ValidationError.
func decodeEvent(r *http.Request, loc *time.Location) (service.EventInput, bool, error) {
	var req eventRequest
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return service.EventInput{}, false, fmt.Errorf("invalid JSON: %w", err)
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return service.EventInput{}, false, fmt.Errorf("invalid form: %w", err)
		}
		req.Title = r.PostFormValue("title")
		req.Description = r.PostFormValue("description")
		req.StartDatetime = r.PostFormValue("start_datetime")
		req.EndDatetime = r.PostFormValue("end_datetime")
		req.ReminderMinutes = json.Number(strings.TrimSpace(r.PostFormValue("reminder_minutes")))
		req.SyncWithGoogle = parseCheckbox(r.PostFormValue("sync_with_google"))
	}

	fields := map[string]string{}
	in := service.EventInput{
		Title:       req.Title,
		Description: req.Description,
	}

	var err error
	if in.StartDatetime, err = parseDateTime(req.StartDatetime, loc); err != nil {
		fields["start_datetime"] = "Enter a valid date/time."
	}
	if in.EndDatetime, err = parseDateTime(req.EndDatetime, loc); err != nil {
		fields["end_datetime"] = "Enter a valid date/time."
	}
	if req.ReminderMinutes != "" {
		n, err := strconv.Atoi(req.ReminderMinutes.String())
		if err != nil {
			fields["reminder_minutes"] = "Select a valid choice."
		}
		in.ReminderMinutes = n
	}

	if len(fields) > 0 {
		return in, req.SyncWithGoogle, &service.ValidationError{Fields: fields}
	}
	return in, req.SyncWithGoogle, nil
}

// parseDateTime returns the zero time for an empty value so that validation reports it as required.
func parseDateTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date/time %q", value)
}

func parseCheckbox(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}
