package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"eventcal/internal/models"
	"eventcal/internal/syncer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var fixedNow = time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

type memTokenStore struct {
	mu    sync.Mutex
	token *oauth2.Token
	saves int
}

func (s *memTokenStore) Load() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return nil, nil
	}
	tok := *s.token
	return &tok, nil
}

func (s *memTokenStore) Save(token *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.saves++
	return nil
}

type fakeAuthorizer struct {
	token *oauth2.Token
	err   error
	calls int
}

func (a *fakeAuthorizer) Authorize(context.Context, *oauth2.Config) (*oauth2.Token, error) {
	a.calls++
	return a.token, a.err
}

// fakeGoogle serves both the OAuth token endpoint and the Calendar API.
type fakeGoogle struct {
	server        *httptest.Server
	refreshStatus int
	deleteStatus  int
	refreshCalls  int
	apiCalls      []string
	authHeaders   []string
	lastBody      map[string]any
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	f := &fakeGoogle{refreshStatus: http.StatusOK, deleteStatus: http.StatusNoContent}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGoogle) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/token" {
		f.refreshCalls++
		w.Header().Set("Content-Type", "application/json")
		if f.refreshStatus != http.StatusOK {
			w.WriteHeader(f.refreshStatus)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"fresh-access","token_type":"Bearer","expires_in":3600}`)
		return
	}

	f.apiCalls = append(f.apiCalls, r.Method+" "+r.URL.Path)
	f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
	if r.Body != nil {
		body, _ := io.ReadAll(r.Body)
		if len(body) > 0 {
			f.lastBody = map[string]any{}
			_ = json.Unmarshal(body, &f.lastBody)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.Method {
	case http.MethodPost:
		_, _ = io.WriteString(w, `{"id":"g-123"}`)
	case http.MethodPut:
		_, _ = io.WriteString(w, `{"id":"g-123"}`)
	case http.MethodDelete:
		w.WriteHeader(f.deleteStatus)
		if f.deleteStatus >= 400 {
			_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, f.deleteStatus, http.StatusText(f.deleteStatus))
		}
	}
}

func (f *fakeGoogle) client(tokens TokenStore, authorizer Authorizer) *CalendarClient {
	config := &oauth2.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		Endpoint: oauth2.Endpoint{
			TokenURL:  f.server.URL + "/token",
			AuthURL:   f.server.URL + "/auth",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), config, tokens, authorizer, Options{
		TimeZone: "Europe/Berlin",
		Endpoint: f.server.URL + "/",
		Now:      func() time.Time { return fixedNow },
	})
}

func testEvent() *models.Event {
	start := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	return &models.Event{
		ID:              7,
		Title:           "Standup",
		Description:     "daily sync",
		StartDatetime:   start,
		EndDatetime:     start.Add(30 * time.Minute),
		ReminderMinutes: 10,
	}
}

func TestCreateEventWithValidToken(t *testing.T) {
	f := newFakeGoogle(t)
	tokens := &memTokenStore{token: &oauth2.Token{AccessToken: "valid", Expiry: fixedNow.Add(time.Hour)}}
	c := f.client(tokens, nil)

	id, err := c.CreateEvent(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Equal(t, "g-123", id)
	assert.Equal(t, []string{"POST /calendars/primary/events"}, f.apiCalls)
	assert.Equal(t, "Bearer valid", f.authHeaders[0])
	assert.Equal(t, 0, f.refreshCalls)
	assert.Equal(t, 0, tokens.saves)

	assert.Equal(t, "Standup", f.lastBody["summary"])
	assert.Equal(t, "daily sync", f.lastBody["description"])
	start := f.lastBody["start"].(map[string]any)
	assert.Equal(t, "2024-01-10T10:00:00Z", start["dateTime"])
	assert.Equal(t, "Europe/Berlin", start["timeZone"])
}

func TestExpiredTokenIsRefreshedAndPersisted(t *testing.T) {
	f := newFakeGoogle(t)
	tokens := &memTokenStore{token: &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-me",
		Expiry:       fixedNow.Add(-time.Minute),
	}}
	auth := &fakeAuthorizer{}
	c := f.client(tokens, auth)

	_, err := c.CreateEvent(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Equal(t, 1, f.refreshCalls)
	assert.Equal(t, 0, auth.calls)
	assert.Equal(t, "Bearer fresh-access", f.authHeaders[0])

	require.Equal(t, 1, tokens.saves)
	assert.Equal(t, "fresh-access", tokens.token.AccessToken)
	assert.Equal(t, "refresh-me", tokens.token.RefreshToken)
}

func TestTokenAboutToExpireIsRefreshed(t *testing.T) {
	f := newFakeGoogle(t)
	tokens := &memTokenStore{token: &oauth2.Token{
		AccessToken:  "almost",
		RefreshToken: "r",
		Expiry:       fixedNow.Add(30 * time.Second),
	}}
	c := f.client(tokens, nil)

	require.NoError(t, c.DeleteEvent(context.Background(), "g-1"))
	assert.Equal(t, 1, f.refreshCalls)
}

func TestMissingTokenFallsBackToAuthorizer(t *testing.T) {
	f := newFakeGoogle(t)
	tokens := &memTokenStore{}
	auth := &fakeAuthorizer{token: &oauth2.Token{AccessToken: "authorized", Expiry: fixedNow.Add(time.Hour)}}
	c := f.client(tokens, auth)

	_, err := c.CreateEvent(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Equal(t, 1, auth.calls)
	assert.Equal(t, "Bearer authorized", f.authHeaders[0])
	assert.Equal(t, "authorized", tokens.token.AccessToken)
}

func TestFailedRefreshFallsBackToAuthorizer(t *testing.T) {
	f := newFakeGoogle(t)
	f.refreshStatus = http.StatusBadRequest
	tokens := &memTokenStore{token: &oauth2.Token{AccessToken: "stale", RefreshToken: "revoked", Expiry: fixedNow.Add(-time.Hour)}}
	auth := &fakeAuthorizer{err: errors.New("user went away")}
	c := f.client(tokens, auth)

	_, err := c.CreateEvent(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user went away")
	assert.Equal(t, 1, f.refreshCalls)
	assert.Equal(t, 1, auth.calls)
	assert.Empty(t, f.apiCalls)
}

func TestNonInteractiveRequiresAuthorization(t *testing.T) {
	f := newFakeGoogle(t)
	c := f.client(&memTokenStore{}, NonInteractive{})

	_, err := c.CreateEvent(context.Background(), testEvent())
	assert.ErrorIs(t, err, ErrAuthorizationRequired)
	assert.Empty(t, f.apiCalls)
}

func TestUpdateEvent(t *testing.T) {
	f := newFakeGoogle(t)
	tokens := &memTokenStore{token: &oauth2.Token{AccessToken: "valid"}}
	c := f.client(tokens, nil)

	e := testEvent()
	require.Error(t, c.UpdateEvent(context.Background(), e))

	ext := "g-9"
	e.ExternalEventID = &ext
	e.Title = "Renamed"
	require.NoError(t, c.UpdateEvent(context.Background(), e))
	assert.Equal(t, []string{"PUT /calendars/primary/events/g-9"}, f.apiCalls)
	assert.Equal(t, "Renamed", f.lastBody["summary"])
}

func TestDeleteEventStatuses(t *testing.T) {
	for _, tc := range []struct {
		status   int
		notFound bool
		wantErr  bool
	}{
		{http.StatusNoContent, false, false},
		{http.StatusNotFound, true, true},
		{http.StatusGone, true, true},
		{http.StatusInternalServerError, false, true},
	} {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			f := newFakeGoogle(t)
			f.deleteStatus = tc.status
			c := f.client(&memTokenStore{token: &oauth2.Token{AccessToken: "valid"}}, nil)

			err := c.DeleteEvent(context.Background(), "g-1")
			assert.Equal(t, tc.wantErr, err != nil, "err=%v", err)
			assert.Equal(t, tc.notFound, errors.Is(err, syncer.ErrNotFound))
			assert.Equal(t, []string{"DELETE /calendars/primary/events/g-1"}, f.apiCalls)
		})
	}
}

func TestPromptAuthorizerExchangesCode(t *testing.T) {
	var gotCode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotCode = r.PostForm.Get("code")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"a","refresh_token":"r","token_type":"Bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	config := &oauth2.Config{
		ClientID: "id",
		Endpoint: oauth2.Endpoint{AuthURL: "https://accounts.example/auth", TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
	}
	var out strings.Builder
	tok, err := PromptAuthorizer{In: strings.NewReader("  the-code \n"), Out: &out}.Authorize(context.Background(), config)
	require.NoError(t, err)
	assert.Equal(t, "the-code", gotCode)
	assert.Equal(t, "r", tok.RefreshToken)
	assert.Contains(t, out.String(), "https://accounts.example/auth")
	assert.Contains(t, out.String(), "access_type=offline")

	_, err = PromptAuthorizer{In: strings.NewReader("\n"), Out: io.Discard}.Authorize(context.Background(), config)
	assert.Error(t, err)
}

func TestFileTokenStore(t *testing.T) {
	store := FileTokenStore{Path: filepath.Join(t.TempDir(), "token.json")}

	tok, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, tok)

	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(&oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: expiry}))
	tok, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "a", tok.AccessToken)
	assert.Equal(t, "r", tok.RefreshToken)
	assert.True(t, tok.Expiry.Equal(expiry))
}

type closeFailWriter struct {
	strings.Builder
}

func (*closeFailWriter) Close() error { return errors.New("disk full") }

func TestWriteTokenReportsCloseError(t *testing.T) {
	w := &closeFailWriter{}
	err := writeToken(w, &oauth2.Token{AccessToken: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Contains(t, w.String(), `"access_token":"a"`)
}

func TestGetOAuthConfig(t *testing.T) {
	config, err := GetOAuthConfig("id", "secret", "")
	require.NoError(t, err)
	assert.Equal(t, "id", config.ClientID)
	assert.Equal(t, redirectURL, config.RedirectURL)

	_, err = GetOAuthConfig("", "", filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "not found")
}
