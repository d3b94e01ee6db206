package google

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"eventcal/internal/models"
	"eventcal/internal/syncer"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// DefaultCalendarID is the authenticated user's main calendar.
	DefaultCalendarID = "primary"

	redirectURL = "urn:ietf:wg:oauth:2.0:oob"

	// expiryDelta treats tokens about to expire as already expired.
	expiryDelta = time.Minute
)

// ErrAuthorizationRequired means no usable token exists and a user must run the auth flow.
var ErrAuthorizationRequired = errors.New("google calendar authorization required, run the auth command")

// Options tune a CalendarClient. Zero values pick the defaults.
type Options struct {
	CalendarID string
	TimeZone   string
	// Endpoint overrides the Calendar API base URL.
	Endpoint string
	Now      func() time.Time
}

// CalendarClient mirrors events into a Google Calendar.
// It holds no live session: credentials are checked and refreshed before each call.
type CalendarClient struct {
	config     *oauth2.Config
	tokens     TokenStore
	authorizer Authorizer
	logger     *slog.Logger
	calendarID string
	timeZone   string
	endpoint   string
	now        func() time.Time
}

// NewClient creates a new Google Calendar client.
func NewClient(logger *slog.Logger, config *oauth2.Config, tokens TokenStore, authorizer Authorizer, opts Options) *CalendarClient {
	if opts.CalendarID == "" {
		opts.CalendarID = DefaultCalendarID
	}
	if opts.TimeZone == "" {
		opts.TimeZone = "UTC"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if authorizer == nil {
		authorizer = NonInteractive{}
	}
	return &CalendarClient{
		config:     config,
		tokens:     tokens,
		authorizer: authorizer,
		logger:     logger,
		calendarID: opts.CalendarID,
		timeZone:   opts.TimeZone,
		endpoint:   opts.Endpoint,
		now:        opts.Now,
	}
}

func (c *CalendarClient) Name() string {
	return "Google Calendar"
}

// CreateEvent inserts the event and returns the Google event id.
func (c *CalendarClient) CreateEvent(ctx context.Context, event *models.Event) (string, error) {
	service, err := c.session(ctx)
	if err != nil {
		return "", err
	}

	created, err := service.Events.Insert(c.calendarID, c.toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}
	c.logger.Debug("Inserted Google Calendar event", "calendarID", c.calendarID, "googleID", created.Id)
	return created.Id, nil
}

// UpdateEvent replaces the Google event referenced by event.ExternalEventID.
func (c *CalendarClient) UpdateEvent(ctx context.Context, event *models.Event) error {
	if !event.IsSynced() {
		return errors.New("event does not have a Google Calendar event ID")
	}
	service, err := c.session(ctx)
	if err != nil {
		return err
	}

	_, err = service.Events.Update(c.calendarID, event.ExternalID(), c.toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	return nil
}

// DeleteEvent removes a Google event. A missing event yields syncer.ErrNotFound.
func (c *CalendarClient) DeleteEvent(ctx context.Context, googleEventID string) error {
	service, err := c.session(ctx)
	if err != nil {
		return err
	}

	err = service.Events.Delete(c.calendarID, googleEventID).Context(ctx).Do()
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		return syncer.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// Authorize runs the authorizer unconditionally and stores the resulting token.
func (c *CalendarClient) Authorize(ctx context.Context) error {
	token, err := c.authorizer.Authorize(ctx, c.config)
	if err != nil {
		return err
	}
	if err := c.tokens.Save(token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// session builds a Calendar service for a single operation.
func (c *CalendarClient) session(ctx context.Context) (*calendar.Service, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, oauth2.StaticTokenSource(token)))}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return service, nil
}

// token returns a usable access token: the stored one while valid, otherwise a
// refreshed one, otherwise whatever the authorizer produces.
func (c *CalendarClient) token(ctx context.Context) (*oauth2.Token, error) {
	token, err := c.tokens.Load()
	if err != nil {
		c.logger.Warn("Could not read stored token", "error", err)
		token = nil
	}
	if c.validUntilUse(token) {
		return token, nil
	}

	if token != nil && token.RefreshToken != "" {
		// Passing only the refresh token forces a refresh.
		fresh, err := c.config.TokenSource(ctx, &oauth2.Token{RefreshToken: token.RefreshToken}).Token()
		if err == nil {
			c.logger.Info("Refreshed Google access token", "expiry", fresh.Expiry)
			if err := c.tokens.Save(fresh); err != nil {
				c.logger.Warn("Failed to persist refreshed token", "error", err)
			}
			return fresh, nil
		}
		c.logger.Warn("Token refresh failed, authorization required", "error", err)
	}

	fresh, err := c.authorizer.Authorize(ctx, c.config)
	if err != nil {
		return nil, err
	}
	if err := c.tokens.Save(fresh); err != nil {
		c.logger.Warn("Failed to persist new token", "error", err)
	}
	return fresh, nil
}

func (c *CalendarClient) validUntilUse(token *oauth2.Token) bool {
	if token == nil || token.AccessToken == "" {
		return false
	}
	return token.Expiry.IsZero() || c.now().Add(expiryDelta).Before(token.Expiry)
}

// toGoogleEvent converts an internal Event to the Calendar API representation.
func (c *CalendarClient) toGoogleEvent(event *models.Event) *calendar.Event {
	return &calendar.Event{
		Summary:     event.Title,
		Description: event.Description,
		Start: &calendar.EventDateTime{
			DateTime: event.StartDatetime.Format(time.RFC3339),
			TimeZone: c.timeZone,
		},
		End: &calendar.EventDateTime{
			DateTime: event.EndDatetime.Format(time.RFC3339),
			TimeZone: c.timeZone,
		},
		Reminders: &calendar.EventReminders{
			UseDefault: false,
			Overrides: []*calendar.EventReminder{
				{Method: "popup", Minutes: int64(event.ReminderMinutes)},
			},
			ForceSendFields: []string{"UseDefault"},
		},
	}
}

// GetOAuthConfig reads credentials and returns an OAuth2 config.
// It prioritizes the client id/secret over a credentials file.
func GetOAuthConfig(clientID, clientSecret, credentialsFile string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{calendar.CalendarEventsScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s not found. Provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET or download it from Google Cloud Console", credentialsFile)
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, calendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = redirectURL
	return config, nil
}
