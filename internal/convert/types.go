package convert

import (
	"strconv"
	"time"
)

// Multipart field names understood by POST /convert.
const (
	FieldVideo       = "video"
	FieldMaxDuration = "max_duration"
	FieldQuality     = "quality"
	FieldSpeed       = "speed"
	FieldCropStart   = "crop_start"
	FieldCropEnd     = "crop_end"
)

// Request is one conversion submission. CropEnd is nil when the crop window
// runs to the end of the source.
type Request struct {
	SourcePath  string
	SourceName  string
	MaxDuration int
	Quality     int
	Speed       float64
	CropStart   float64
	CropEnd     *float64
}

// FormField is a single non-file multipart field.
type FormField struct {
	Name  string
	Value string
}

// Fields returns the non-file form fields in submission order.
// crop_end is only present when set.
func (r Request) Fields() []FormField {
	fields := []FormField{
		{FieldMaxDuration, strconv.Itoa(r.MaxDuration)},
		{FieldQuality, strconv.Itoa(r.Quality)},
		{FieldSpeed, formatFloat(r.Speed)},
		{FieldCropStart, formatFloat(r.CropStart)},
	}
	if r.CropEnd != nil {
		fields = append(fields, FormField{FieldCropEnd, formatFloat(*r.CropEnd)})
	}
	return fields
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Response is the success body of POST /convert.
type Response struct {
	Success   bool    `json:"success"`
	FileID    string  `json:"file_id"`
	Filename  string  `json:"filename,omitempty"`
	SizeKB    float64 `json:"size_kb"`
	SizeBytes int64   `json:"size_bytes,omitempty"`
	Warning   bool    `json:"warning,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// HealthStatus is the outcome of probing GET /health.
type HealthStatus struct {
	Reachable bool      `json:"reachable"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}
