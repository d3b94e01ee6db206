package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"eventcal/internal/models"

	"github.com/mattn/go-sqlite3"
)

// ErrDuplicateUsername is returned by CreateUser when the username is already stored.
var ErrDuplicateUsername = errors.New("duplicate username")

// timeLayout is fixed-width UTC so that text comparison in SQL matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const eventColumns = `id, owner_id, title, description, start_datetime, end_datetime,
	reminder_minutes, reminder_triggered, external_event_id, created_at, updated_at`

type Storage struct {
	db *sql.DB
}

// New opens (creating if needed) the SQLite database at dbPath and applies migrations.
func New(dbPath string) (*Storage, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	// One writer keeps each read-modify-write on a row atomic.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	s := &Storage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an already opened database. Migrations are not applied.
func NewWithDB(db *sql.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the schema. It is safe to run repeatedly.
func (s *Storage) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			start_datetime TEXT NOT NULL,
			end_datetime TEXT NOT NULL,
			reminder_minutes INTEGER NOT NULL DEFAULT 30,
			reminder_triggered INTEGER NOT NULL DEFAULT 0,
			external_event_id TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_owner_start ON events(owner_id, start_datetime)`,
		`CREATE INDEX IF NOT EXISTS idx_events_triggered_start ON events(reminder_triggered, start_datetime)`,
	}

	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// === Users ===

func (s *Storage) CreateUser(ctx context.Context, u *models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		u.Username, u.PasswordHash, formatTime(u.CreatedAt),
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return ErrDuplicateUsername
	}
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

// GetUserByUsername returns nil, nil when no such user exists.
func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u := &models.User{}
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = ?`,
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return u, nil
}

// === Events ===

func (s *Storage) CreateEvent(ctx context.Context, e *models.Event) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (owner_id, title, description, start_datetime, end_datetime,
			reminder_minutes, reminder_triggered, external_event_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OwnerID, e.Title, e.Description, formatTime(e.StartDatetime), formatTime(e.EndDatetime),
		e.ReminderMinutes, e.ReminderTriggered, nullString(e.ExternalEventID),
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// GetEvent returns the event only if it belongs to ownerID; otherwise nil, nil.
func (s *Storage) GetEvent(ctx context.Context, id, ownerID int64) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ? AND owner_id = ?`,
		id, ownerID,
	)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// UpdateEvent writes the user-editable fields. Sync and reminder state are left untouched.
func (s *Storage) UpdateEvent(ctx context.Context, e *models.Event) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET title = ?, description = ?, start_datetime = ?, end_datetime = ?,
			reminder_minutes = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		e.Title, e.Description, formatTime(e.StartDatetime), formatTime(e.EndDatetime),
		e.ReminderMinutes, formatTime(e.UpdatedAt), e.ID, e.OwnerID,
	)
	return err
}

// SetExternalID stores or clears (nil) the id of the mirrored external event.
func (s *Storage) SetExternalID(ctx context.Context, id, ownerID int64, externalID *string, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET external_event_id = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		nullString(externalID), formatTime(updatedAt), id, ownerID,
	)
	return err
}

// MarkReminderTriggered sets reminder_triggered. Calling it twice is harmless.
func (s *Storage) MarkReminderTriggered(ctx context.Context, id, ownerID int64, updatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET reminder_triggered = 1, updated_at = ? WHERE id = ? AND owner_id = ?`,
		formatTime(updatedAt), id, ownerID,
	)
	return err
}

func (s *Storage) DeleteEvent(ctx context.Context, id, ownerID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ? AND owner_id = ?`, id, ownerID)
	return err
}

// ListEvents returns all events of an owner ordered by start time.
func (s *Storage) ListEvents(ctx context.Context, ownerID int64) ([]*models.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE owner_id = ? ORDER BY start_datetime ASC, id ASC`,
		ownerID,
	)
}

// ListEventsBetween returns events starting in [from, to).
func (s *Storage) ListEventsBetween(ctx context.Context, ownerID int64, from, to time.Time) ([]*models.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE owner_id = ? AND start_datetime >= ? AND start_datetime < ?
		 ORDER BY start_datetime ASC, id ASC`,
		ownerID, formatTime(from), formatTime(to),
	)
}

// ListUpcomingEvents returns at most limit events starting strictly after after.
func (s *Storage) ListUpcomingEvents(ctx context.Context, ownerID int64, after time.Time, limit int) ([]*models.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE owner_id = ? AND start_datetime > ?
		 ORDER BY start_datetime ASC, id ASC
		 LIMIT ?`,
		ownerID, formatTime(after), limit,
	)
}

// ListUntriggeredEvents returns events whose reminder has not fired yet.
func (s *Storage) ListUntriggeredEvents(ctx context.Context, ownerID int64) ([]*models.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE owner_id = ? AND reminder_triggered = 0
		 ORDER BY start_datetime ASC, id ASC`,
		ownerID,
	)
}

func (s *Storage) queryEvents(ctx context.Context, query string, args ...any) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*models.Event, error) {
	e := &models.Event{}
	var (
		start, end, createdAt, updatedAt string
		externalID                       sql.NullString
	)
	if err := row.Scan(&e.ID, &e.OwnerID, &e.Title, &e.Description, &start, &end,
		&e.ReminderMinutes, &e.ReminderTriggered, &externalID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if e.StartDatetime, err = parseTime(start); err != nil {
		return nil, err
	}
	if e.EndDatetime, err = parseTime(end); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if externalID.Valid {
		id := externalID.String
		e.ExternalEventID = &id
	}
	return e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
