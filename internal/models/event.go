package models

import "time"

// DefaultReminderMinutes is used when an event is created without an explicit reminder.
const DefaultReminderMinutes = 30

// ReminderChoice is one of the fixed reminder offsets a user can pick.
type ReminderChoice struct {
	Minutes int    `json:"minutes"`
	Label   string `json:"label"`
}

// ReminderChoices lists the allowed reminder offsets, shortest first.
var ReminderChoices = []ReminderChoice{
	{Minutes: 5, Label: "5 minutes before"},
	{Minutes: 10, Label: "10 minutes before"},
	{Minutes: 30, Label: "30 minutes before"},
	{Minutes: 60, Label: "1 hour before"},
	{Minutes: 1440, Label: "1 day before"},
}

// ValidReminderMinutes reports whether n is one of ReminderChoices.
func ValidReminderMinutes(n int) bool {
	for _, c := range ReminderChoices {
		if c.Minutes == n {
			return true
		}
	}
	return false
}

// Event is a calendar entry owned by a single user.
// ExternalEventID is nil while the event is not mirrored to an external calendar.
type Event struct {
	ID                int64
	OwnerID           int64
	Title             string
	Description       string
	StartDatetime     time.Time
	EndDatetime       time.Time
	ReminderMinutes   int
	ReminderTriggered bool
	ExternalEventID   *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ReminderDueAt returns the moment the reminder window opens.
func (e *Event) ReminderDueAt() time.Time {
	return e.StartDatetime.Add(-time.Duration(e.ReminderMinutes) * time.Minute)
}

// ShouldTrigger reports whether the reminder is eligible to fire at now.
// The window is [start - reminder, start); a reminder missed before start is never fired.
func (e *Event) ShouldTrigger(now time.Time) bool {
	if e.ReminderTriggered {
		return false
	}
	return !now.Before(e.ReminderDueAt()) && now.Before(e.StartDatetime)
}

// IsSynced reports whether the event has a mirrored copy in an external calendar.
func (e *Event) IsSynced() bool {
	return e.ExternalEventID != nil && *e.ExternalEventID != ""
}

// ExternalID returns the external event id or an empty string.
func (e *Event) ExternalID() string {
	if e.ExternalEventID == nil {
		return ""
	}
	return *e.ExternalEventID
}
