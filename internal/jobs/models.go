// Package jobs records every conversion the agent submits.
package jobs

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job is one submission to the Conversion Service with the parameters it
// was sent with and its outcome.
type Job struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	SourceName  string    `json:"source_name"`
	Speed       float64   `json:"speed"`
	CropStart   float64   `json:"crop_start"`
	CropEnd     *float64  `json:"crop_end,omitempty"`
	MaxDuration int       `json:"max_duration"`
	Quality     int       `json:"quality"`
	FileID      string    `json:"file_id,omitempty"`
	SizeKB      float64   `json:"size_kb,omitempty"`
	Warning     bool      `json:"warning"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func NewID() string {
	return uuid.NewString()
}
