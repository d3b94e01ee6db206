package icloud

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"eventcal/internal/models"
	"eventcal/internal/syncer"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
)

const (
	// DefaultEndpoint is the iCloud CalDAV root.
	DefaultEndpoint = "https://caldav.icloud.com/"

	productID = "-//eventcal//EN"
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "eventcal/1.0")
	return t.Transport.RoundTrip(req)
}

// CalDAVClient mirrors events into one CalDAV calendar (iCloud by default).
type CalDAVClient struct {
	caldavClient *caldav.Client
	httpClient   *http.Client
	endpoint     *url.URL
	logger       *slog.Logger
	calendarPath string
	now          func() time.Time
}

// NewClient creates a CalDAVClient and resolves the calendar by its display name.
func NewClient(ctx context.Context, logger *slog.Logger, endpoint, username, password, calendarName string) (*CalDAVClient, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpClient := &http.Client{
		Transport: &customTransport{
			Username:  username,
			Password:  password,
			Transport: http.DefaultTransport,
		},
		Timeout: 30 * time.Second,
	}

	c, err := newClient(logger, httpClient, endpoint, "")
	if err != nil {
		return nil, err
	}

	logger.Info("Finding CalDAV calendar", "calendarName", calendarName)
	calendarPath, err := c.findCalendar(ctx, calendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", calendarName, err)
	}
	c.calendarPath = calendarPath
	logger.Info("Successfully found CalDAV calendar", "path", calendarPath)

	return c, nil
}

func newClient(logger *slog.Logger, httpClient *http.Client, endpoint, calendarPath string) (*CalDAVClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid caldav endpoint: %w", err)
	}
	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	return &CalDAVClient{
		caldavClient: caldavClient,
		httpClient:   httpClient,
		endpoint:     u,
		logger:       logger,
		calendarPath: calendarPath,
		now:          time.Now,
	}, nil
}

func (c *CalDAVClient) Name() string {
	return "CalDAV calendar"
}

// CreateEvent stores the event under a fresh UID and returns that UID.
func (c *CalDAVClient) CreateEvent(ctx context.Context, event *models.Event) (string, error) {
	uid := GenerateUID()
	if err := c.put(ctx, uid, event); err != nil {
		return "", err
	}
	return uid, nil
}

// UpdateEvent overwrites the object stored under the event's external id.
func (c *CalDAVClient) UpdateEvent(ctx context.Context, event *models.Event) error {
	if !event.IsSynced() {
		return fmt.Errorf("event does not have a CalDAV UID")
	}
	return c.put(ctx, event.ExternalID(), event)
}

// DeleteEvent removes the object. A 404 or 410 from the server yields syncer.ErrNotFound.
// The request is sent directly since go-webdav does not expose the response status.
func (c *CalDAVClient) DeleteEvent(ctx context.Context, uid string) error {
	target := c.endpoint.ResolveReference(&url.URL{Path: c.eventPath(uid)})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete event from CalDAV server: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return syncer.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("failed to delete event from CalDAV server: %s", resp.Status)
	}
	return nil
}

func (c *CalDAVClient) put(ctx context.Context, uid string, event *models.Event) error {
	c.logger.Debug("Writing event to CalDAV", "eventID", event.ID, "uid", uid)

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, c.toICal(uid, event))

	if _, err := c.caldavClient.PutCalendarObject(ctx, c.eventPath(uid), cal); err != nil {
		return fmt.Errorf("failed to put event on CalDAV server: %w", err)
	}
	return nil
}

func (c *CalDAVClient) eventPath(uid string) string {
	return path.Join(c.calendarPath, uid+".ics")
}

// toICal converts an internal Event to a VEVENT with a display alarm.
func (c *CalDAVClient) toICal(uid string, event *models.Event) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, event.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, c.now().UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, event.StartDatetime.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, event.EndDatetime.UTC())
	if event.Description != "" {
		ve.Props.SetText(ical.PropDescription, event.Description)
	}

	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	alarm.Props.SetText(ical.PropDescription, event.Title)
	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = fmt.Sprintf("-PT%dM", event.ReminderMinutes)
	alarm.Props.Set(trigger)
	ve.Children = append(ve.Children, alarm)

	return ve
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (c *CalDAVClient) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}
	return "", fmt.Errorf("no calendar found with name '%s'", name)
}

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}
