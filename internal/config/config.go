package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"
)

// Sync providers.
const (
	ProviderNone   = "none"
	ProviderGoogle = "google"
	ProviderCalDAV = "caldav"
)

type Config struct {
	DatabasePath string
	ServerAddr   string
	Timezone     *time.Location
	LogLevel     string

	SyncProvider string
	SyncTimeout  time.Duration

	GoogleClientID        string
	GoogleClientSecret    string
	GoogleCredentialsFile string
	GoogleTokenFile       string
	GoogleCalendarID      string

	CalDAVEndpoint     string
	CalDAVUsername     string
	CalDAVPassword     string
	CalDAVCalendarName string
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	tzName := get("TIMEZONE", "UTC")
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	timeout, err := time.ParseDuration(get("SYNC_TIMEOUT", "15s"))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("invalid SYNC_TIMEOUT %q: must be a positive duration", getenv("SYNC_TIMEOUT"))
	}

	cfg := &Config{
		DatabasePath: get("DATABASE_PATH", "./data/eventcal.db"),
		ServerAddr:   get("SERVER_ADDR", ":8000"),
		Timezone:     tz,
		LogLevel:     get("LOG_LEVEL", "info"),
		SyncTimeout:  timeout,

		GoogleClientID:        get("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    get("GOOGLE_CLIENT_SECRET", ""),
		GoogleCredentialsFile: get("GOOGLE_CREDENTIALS_FILE", "credentials.json"),
		GoogleTokenFile:       get("GOOGLE_TOKEN_FILE", "token.json"),
		GoogleCalendarID:      get("GOOGLE_CALENDAR_ID", "primary"),

		CalDAVEndpoint:     get("CALDAV_ENDPOINT", ""),
		CalDAVUsername:     get("ICLOUD_USERNAME", ""),
		CalDAVPassword:     get("ICLOUD_APP_SPECIFIC_PASSWORD", ""),
		CalDAVCalendarName: get("ICLOUD_CALENDAR_NAME", ""),
	}

	cfg.SyncProvider = strings.ToLower(get("SYNC_PROVIDER", cfg.defaultProvider()))
	switch cfg.SyncProvider {
	case ProviderNone, ProviderGoogle:
	case ProviderCalDAV:
		if cfg.CalDAVUsername == "" || cfg.CalDAVPassword == "" || cfg.CalDAVCalendarName == "" {
			return nil, fmt.Errorf("SYNC_PROVIDER=caldav requires ICLOUD_USERNAME, ICLOUD_APP_SPECIFIC_PASSWORD and ICLOUD_CALENDAR_NAME")
		}
	default:
		return nil, fmt.Errorf("invalid SYNC_PROVIDER %q (want google, caldav or none)", cfg.SyncProvider)
	}

	return cfg, nil
}

// Google is considered configured when client credentials are given or the credentials file exists.
func (c *Config) defaultProvider() string {
	if c.GoogleClientID != "" && c.GoogleClientSecret != "" {
		return ProviderGoogle
	}
	if _, err := os.Stat(c.GoogleCredentialsFile); err == nil {
		return ProviderGoogle
	}
	return ProviderNone
}
