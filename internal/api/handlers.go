package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"eventcal/internal/models"
	"eventcal/internal/service"
)

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		jsonResponse(w, http.StatusBadRequest, APIResponse{Success: false, Error: "invalid input", Fields: verr.Fields})
	case errors.Is(err, service.ErrNotFound):
		jsonError(w, "event not found", http.StatusNotFound)
	default:
		s.logger.Error("Request failed", "error", err)
		jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func eventID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, service.ErrNotFound
	}
	return id, nil
}

func (s *Server) resultResponse(res *service.Result) APIResponse {
	ev := toEventResponse(res.Event, s.events.Location())
	return APIResponse{
		Success: true,
		Message: res.Message,
		Warning: res.Warning,
		Data:    ev,
	}
}

func (s *Server) formResponse(values FormValues, event *models.Event) FormResponse {
	resp := FormResponse{
		Values:          values,
		ReminderChoices: models.ReminderChoices,
		SyncEnabled:     s.opts.SyncEnabled,
		SyncProvider:    s.opts.SyncProvider,
	}
	if event != nil {
		ev := toEventResponse(event, s.events.Location())
		resp.Event = &ev
	}
	return resp
}

// GET /
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	d, err := s.events.Dashboard(r.Context(), user.ID, s.events.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	loc := s.events.Location()
	jsonResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data: DashboardResponse{
			Today:            toEventResponses(d.Today, loc),
			Upcoming:         toEventResponses(d.Upcoming, loc),
			PendingReminders: toEventResponses(d.PendingReminders, loc),
		},
	})
}

// GET /events/json returns a bare array for the calendar widget.
func (s *Server) handleEventsJSON(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	items, err := s.events.Feed(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, items)
}

// GET /event/create
func (s *Server) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	values := FormValues{ReminderMinutes: models.DefaultReminderMinutes}
	jsonResponse(w, http.StatusOK, APIResponse{Success: true, Data: s.formResponse(values, nil)})
}

// POST /event/create
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	in, syncRequested, err := decodeEvent(r, s.events.Location())
	if err != nil {
		s.writeDecodeError(w, err)
		return
	}

	res, err := s.events.Create(r.Context(), user.ID, in, syncRequested)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, s.resultResponse(res))
}

// GET /event/{id}
func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	id, err := eventID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	event, err := s.events.Get(r.Context(), user.ID, id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	loc := s.events.Location()
	jsonResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data: EventDetailResponse{
			EventResponse: toEventResponse(event, loc),
			ReminderDueAt: event.ReminderDueAt().In(loc).Format(time.RFC3339),
			ShouldTrigger: event.ShouldTrigger(s.events.Now()),
		},
	})
}

// GET /event/{id}/update
func (s *Server) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	id, err := eventID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	event, err := s.events.Get(r.Context(), user.ID, id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	loc := s.events.Location()
	values := FormValues{
		Title:           event.Title,
		Description:     event.Description,
		StartDatetime:   event.StartDatetime.In(loc).Format(FormLayout),
		EndDatetime:     event.EndDatetime.In(loc).Format(FormLayout),
		ReminderMinutes: event.ReminderMinutes,
		SyncWithGoogle:  event.IsSynced(),
	}
	jsonResponse(w, http.StatusOK, APIResponse{Success: true, Data: s.formResponse(values, event)})
}

// POST /event/{id}/update
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	id, err := eventID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	in, syncRequested, err := decodeEvent(r, s.events.Location())
	if err != nil {
		s.writeDecodeError(w, err)
		return
	}

	res, err := s.events.Update(r.Context(), user.ID, id, in, syncRequested)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, s.resultResponse(res))
}

// GET /event/{id}/delete
func (s *Server) handleDeleteConfirm(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	id, err := eventID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	event, err := s.events.Get(r.Context(), user.ID, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Are you sure you want to delete this event?",
		Data:    toEventResponse(event, s.events.Location()),
	})
}

// POST /event/{id}/delete
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	id, err := eventID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.events.Delete(r.Context(), user.ID, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, s.resultResponse(res))
}

// POST /event/{id}/trigger-reminder
func (s *Server) handleTriggerReminder(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	id, err := eventID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ok, err := s.events.TriggerReminder(r.Context(), user.ID, id, s.events.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		jsonResponse(w, http.StatusOK, APIResponse{Success: false, Message: "Reminder cannot be triggered"})
		return
	}
	jsonResponse(w, http.StatusOK, APIResponse{Success: true, Message: "Reminder triggered"})
}

func (s *Server) writeDecodeError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		s.writeError(w, err)
		return
	}
	jsonError(w, err.Error(), http.StatusBadRequest)
}
