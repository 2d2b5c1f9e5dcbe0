package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SessionRecord is the history row written when an interview finishes.
type SessionRecord struct {
	ID           string
	Title        string
	Status       string
	Reason       string
	Cwd          string
	Branch       string
	StartedAt    time.Time
	FinishedAt   time.Time
	Answers      string // JSON object stored as text
	SnapshotPath string
	RecoveryPath string
}
