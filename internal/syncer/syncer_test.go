package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"eventcal/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	createID  string
	err       error
	deadline  time.Time
	hadCancel bool
}

func (p *stubProvider) Name() string { return "Stub" }

func (p *stubProvider) CreateEvent(ctx context.Context, _ *models.Event) (string, error) {
	p.deadline, p.hadCancel = ctx.Deadline()
	return p.createID, p.err
}

func (p *stubProvider) UpdateEvent(ctx context.Context, _ *models.Event) error {
	p.deadline, p.hadCancel = ctx.Deadline()
	return p.err
}

func (p *stubProvider) DeleteEvent(ctx context.Context, _ string) error {
	p.deadline, p.hadCancel = ctx.Deadline()
	return p.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateEventAppliesTimeout(t *testing.T) {
	p := &stubProvider{createID: "ext-1"}
	s := NewSyncer(testLogger(), p, time.Second)

	before := time.Now()
	id, err := s.CreateEvent(context.Background(), &models.Event{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, "ext-1", id)
	require.True(t, p.hadCancel)
	assert.WithinDuration(t, before.Add(time.Second), p.deadline, 500*time.Millisecond)
}

func TestProviderErrorsAreWrapped(t *testing.T) {
	cause := errors.New("boom")
	p := &stubProvider{err: cause}
	s := NewSyncer(testLogger(), p, 0)
	ext := "ext-1"

	_, err := s.CreateEvent(context.Background(), &models.Event{})
	assertSyncError(t, err, "create", cause)

	err = s.UpdateEvent(context.Background(), &models.Event{ExternalEventID: &ext})
	assertSyncError(t, err, "update", cause)

	err = s.DeleteEvent(context.Background(), ext)
	assertSyncError(t, err, "delete", cause)
}

func assertSyncError(t *testing.T, err error, op string, cause error) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSyncFailed)
	assert.ErrorIs(t, err, cause)
	var syncErr *Error
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, op, syncErr.Op)
}

func TestDeleteNotFoundIsSuccess(t *testing.T) {
	p := &stubProvider{err: ErrNotFound}
	s := NewSyncer(testLogger(), p, 0)
	assert.NoError(t, s.DeleteEvent(context.Background(), "gone"))
}

func TestUpdateWithoutExternalID(t *testing.T) {
	p := &stubProvider{}
	s := NewSyncer(testLogger(), p, 0)
	err := s.UpdateEvent(context.Background(), &models.Event{})
	assert.ErrorIs(t, err, ErrSyncFailed)
	assert.False(t, p.hadCancel, "provider must not be called")
}

func TestDisabledSyncer(t *testing.T) {
	s := NewSyncer(testLogger(), nil, 0)
	assert.False(t, s.Enabled())
	assert.Equal(t, "external calendar", s.ProviderName())

	_, err := s.CreateEvent(context.Background(), &models.Event{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, err, ErrSyncFailed)
	assert.ErrorIs(t, s.DeleteEvent(context.Background(), "x"), ErrNotConfigured)
}
