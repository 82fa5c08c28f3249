package api

import (
	"time"

	"github.com/stickerkit/sticker-agent/internal/jobs"
	"github.com/stickerkit/sticker-agent/internal/session"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State      session.RequestState   `json:"state"`
	SourceName string                 `json:"source_name,omitempty"`
	Resolution string                 `json:"resolution"`
	LastError  string                 `json:"last_error,omitempty"`
	Service    *ServiceStatusResponse `json:"service,omitempty"`
}

type ServiceStatusResponse struct {
	Reachable   bool   `json:"reachable"`
	Status      string `json:"status,omitempty"`
	Error       string `json:"error,omitempty"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
}

type SelectFileRequest struct {
	Path string `json:"path"`
}

type ConvertResponse struct {
	State session.RequestState `json:"state"`
	JobID string               `json:"job_id,omitempty"`
}

type DownloadResponse struct {
	URL string `json:"url"`
}

type JobResponse struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	SourceName  string   `json:"source_name"`
	Speed       float64  `json:"speed"`
	CropStart   float64  `json:"crop_start"`
	CropEnd     *float64 `json:"crop_end,omitempty"`
	MaxDuration int      `json:"max_duration"`
	Quality     int      `json:"quality"`
	Resolution  string   `json:"resolution"`
	FileID      string   `json:"file_id,omitempty"`
	SizeKB      float64  `json:"size_kb,omitempty"`
	Warning     bool     `json:"warning"`
	Error       string   `json:"error,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func JobToResponse(j *jobs.Job) JobResponse {
	return JobResponse{
		ID:          j.ID,
		Status:      j.Status,
		SourceName:  j.SourceName,
		Speed:       j.Speed,
		CropStart:   j.CropStart,
		CropEnd:     j.CropEnd,
		MaxDuration: j.MaxDuration,
		Quality:     j.Quality,
		Resolution:  session.ResolutionLabel(j.Quality),
		FileID:      j.FileID,
		SizeKB:      j.SizeKB,
		Warning:     j.Warning,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.Format(time.RFC3339),
	}
}
