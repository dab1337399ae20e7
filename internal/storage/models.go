package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Completion statuses recorded in the completion log.
const (
	CompletionPending   = "pending"
	CompletionCompleted = "completed"
	CompletionApproved  = "approved"
	CompletionRejected  = "rejected"
)

// CompletionRecord is one achievement completion submitted from this device.
type CompletionRecord struct {
	RequestID     string
	AchievementID string
	TeamID        string
	Status        string
	Message       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
