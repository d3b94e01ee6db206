package icloud

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"eventcal/internal/models"
	"eventcal/internal/syncer"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
	body   string
	user   string
}

func newTestServer(t *testing.T, deleteStatus int) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		user, _, _ := r.BasicAuth()
		requests = append(requests, recordedRequest{method: r.Method, path: r.URL.Path, body: string(body), user: user})
		switch r.Method {
		case http.MethodPut:
			w.WriteHeader(http.StatusCreated)
		case http.MethodDelete:
			w.WriteHeader(deleteStatus)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func testClient(t *testing.T, srv *httptest.Server) *CalDAVClient {
	t.Helper()
	httpClient := &http.Client{Transport: &customTransport{Username: "me@icloud.com", Password: "pw", Transport: http.DefaultTransport}}
	c, err := newClient(slog.New(slog.NewTextHandler(io.Discard, nil)), httpClient, srv.URL, "/calendars/work/")
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return c
}

func testEvent() *models.Event {
	start := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	return &models.Event{
		ID:              3,
		Title:           "Dentist",
		Description:     "bring card",
		StartDatetime:   start,
		EndDatetime:     start.Add(time.Hour),
		ReminderMinutes: 60,
	}
}

func TestCreateEventPutsICalendar(t *testing.T) {
	srv, requests := newTestServer(t, http.StatusNoContent)
	c := testClient(t, srv)

	uid, err := c.CreateEvent(context.Background(), testEvent())
	require.NoError(t, err)
	require.NotEmpty(t, uid)
	require.Len(t, *requests, 1)

	req := (*requests)[0]
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/calendars/work/"+uid+".ics", req.path)
	assert.Equal(t, "me@icloud.com", req.user)
	assert.Contains(t, req.body, "UID:"+uid)
	assert.Contains(t, req.body, "SUMMARY:Dentist")
	assert.Contains(t, req.body, "DTSTART:20240110T100000Z")
	assert.Contains(t, req.body, "BEGIN:VALARM")
	assert.Contains(t, req.body, "TRIGGER:-PT60M")
}

func TestUpdateEventReusesUID(t *testing.T) {
	srv, requests := newTestServer(t, http.StatusNoContent)
	c := testClient(t, srv)

	e := testEvent()
	require.Error(t, c.UpdateEvent(context.Background(), e))
	assert.Empty(t, *requests)

	uid := "fixed-uid"
	e.ExternalEventID = &uid
	e.Title = "Dentist (moved)"
	require.NoError(t, c.UpdateEvent(context.Background(), e))
	require.Len(t, *requests, 1)
	assert.Equal(t, "/calendars/work/fixed-uid.ics", (*requests)[0].path)
	assert.Contains(t, (*requests)[0].body, "SUMMARY:Dentist (moved)")
}

func TestDeleteEvent(t *testing.T) {
	for _, tc := range []struct {
		status   int
		wantErr  bool
		notFound bool
	}{
		{http.StatusNoContent, false, false},
		{http.StatusOK, false, false},
		{http.StatusNotFound, true, true},
		{http.StatusGone, true, true},
		{http.StatusForbidden, true, false},
		{http.StatusServiceUnavailable, true, false},
	} {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv, requests := newTestServer(t, tc.status)
			c := testClient(t, srv)

			// UID contains "404" and "410" so only the status code can decide.
			uid := "6f1c4041-0410-bbbb-cccc-dddddddddddd"
			err := c.DeleteEvent(context.Background(), uid)
			assert.Equal(t, tc.wantErr, err != nil, "err=%v", err)
			assert.Equal(t, tc.notFound, errors.Is(err, syncer.ErrNotFound), "err=%v", err)
			require.Len(t, *requests, 1)
			assert.Equal(t, http.MethodDelete, (*requests)[0].method)
			assert.Equal(t, "/calendars/work/"+uid+".ics", (*requests)[0].path)
			assert.Equal(t, "me@icloud.com", (*requests)[0].user)
		})
	}
}

func TestDeleteEventUnreachableServerIsNotNotFound(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusNoContent)
	c := testClient(t, srv)
	srv.Close()

	err := c.DeleteEvent(context.Background(), "6f1c4041-aaaa-bbbb-cccc-dddddddddddd")
	require.Error(t, err)
	assert.NotErrorIs(t, err, syncer.ErrNotFound)
}

func TestDeleteEventErrorBodyDoesNotMeanNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream 404 while contacting shard 410", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	c := testClient(t, srv)

	err := c.DeleteEvent(context.Background(), "abc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, syncer.ErrNotFound)
	assert.Contains(t, err.Error(), "502")
}

func TestToICalEncodes(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusNoContent)
	c := testClient(t, srv)

	e := testEvent()
	e.Description = ""
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, c.toICal("u-1", e))

	var sb strings.Builder
	require.NoError(t, ical.NewEncoder(&sb).Encode(cal))
	out := sb.String()
	assert.NotContains(t, out, "DESCRIPTION:bring card")
	assert.Contains(t, out, "DTEND:20240110T110000Z")
	assert.Contains(t, out, "DTSTAMP:20240101T000000Z")
}

func TestGenerateUIDIsUnique(t *testing.T) {
	assert.NotEqual(t, GenerateUID(), GenerateUID())
}
