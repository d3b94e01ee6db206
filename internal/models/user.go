package models

import "time"

// User owns events. Authentication data never leaves the storage layer except as a hash.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}
