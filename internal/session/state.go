package session

import (
	"errors"
	"time"
)

var (
	ErrNoSource        = errors.New("no source file selected")
	ErrSubmitInFlight  = errors.New("a conversion is already in progress")
	ErrNoResult        = errors.New("no converted sticker available")
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrUnknownSetting  = errors.New("unknown setting")
	ErrInvalidValue    = errors.New("invalid setting value")
	ErrInvalidCrop     = errors.New("invalid crop window")
	ErrClosed          = errors.New("session controller closed")
)

// Messages shown in the Failed state.
const (
	MessageNoSource = "Please select a video file"
	MessageFallback = "Failed to convert video. Make sure ffmpeg is installed."
)

// RequestState is the conversion request lifecycle.
type RequestState string

const (
	StateIdle       RequestState = "idle"
	StateSubmitting RequestState = "submitting"
	StateSucceeded  RequestState = "succeeded"
	StateFailed     RequestState = "failed"
)

// MetadataState tracks duration extraction for the selected source.
type MetadataState string

const (
	MetadataExtracting MetadataState = "extracting"
	MetadataResolved   MetadataState = "resolved"
	MetadataFailed     MetadataState = "failed"
)

// Source is the selected clip as seen by callers.
type Source struct {
	Path            string        `json:"path"`
	Name            string        `json:"name"`
	SizeBytes       int64         `json:"size_bytes"`
	DurationSeconds int           `json:"duration_seconds"`
	Metadata        MetadataState `json:"metadata"`
	PreviewURL      string        `json:"preview_url,omitempty"`
	SelectedAt      time.Time     `json:"selected_at"`
}

// Result is what the service reported for a successful conversion.
type Result struct {
	FileID   string  `json:"file_id"`
	Filename string  `json:"filename,omitempty"`
	SizeKB   float64 `json:"size_kb"`
	Warning  bool    `json:"warning"`
}

// Snapshot is a consistent copy of the session at one point in time.
type Snapshot struct {
	Source     *Source      `json:"source,omitempty"`
	Settings   Settings     `json:"settings"`
	Resolution string       `json:"resolution"`
	State      RequestState `json:"state"`
	Result     *Result      `json:"result,omitempty"`
	Error      string       `json:"error,omitempty"`
	JobID      string       `json:"job_id,omitempty"`
	Seq        uint64       `json:"seq"`
}
