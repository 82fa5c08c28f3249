package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stickerkit/sticker-agent/internal/convert"
	"github.com/stickerkit/sticker-agent/internal/session"
)

const maxJobsLimit = 200

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())
		r.Use(RequireJSON())

		r.Get("/status", statusHandler(cfg))

		r.Route("/session", func(r chi.Router) {
			r.Get("/", getSessionHandler(cfg))
			r.Post("/file", selectFileHandler(cfg))
			r.Put("/settings/{field}", updateSettingHandler(cfg))
			r.Post("/convert", convertHandler(cfg))
			r.Get("/download", downloadURLHandler(cfg))
			r.Get("/download/file", downloadFileHandler(cfg))
			r.Post("/reset", resetHandler(cfg))
		})

		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))

		r.Get("/preview/{token}", previewHandler(cfg))
		r.Head("/preview/{token}", previewHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := cfg.Controller.Snapshot()

		resp := StatusResponse{
			State:      snap.State,
			Resolution: snap.Resolution,
			LastError:  snap.Error,
		}
		if snap.Source != nil {
			resp.SourceName = snap.Source.Name
		}

		if cfg.Health != nil {
			status := cfg.Health.Peek()
			if status == nil {
				status, _ = cfg.Health.Get(r.Context())
			}
			if status != nil {
				resp.Service = &ServiceStatusResponse{
					Reachable: status.Reachable,
					Status:    status.Status,
					Error:     status.Error,
				}
				if !status.CheckedAt.IsZero() {
					resp.Service.LastProbeAt = status.CheckedAt.Format(time.RFC3339)
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func getSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cfg.Controller.Snapshot())
	}
}

func selectFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectFileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		if err := cfg.Controller.SelectFile(req.Path); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Controller.Snapshot())
	}
}

func updateSettingHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		field := chi.URLParam(r, "field")

		var req struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		raw, err := settingValue(req.Value)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		if err := cfg.Controller.UpdateSetting(field, raw); err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, cfg.Controller.Snapshot())
	}
}

// settingValue accepts a JSON number, string or null and returns it in the
// textual form the controller parses. null clears optional fields.
func settingValue(v json.RawMessage) (string, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", nil
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", fmt.Errorf("invalid value: %w", err)
		}
		return s, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			return "", fmt.Errorf("invalid value: %w", err)
		}
		return n.String(), nil
	default:
		return "", fmt.Errorf("value must be a number, string or null")
	}
}

func convertHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Controller.Submit(); err != nil {
			writeSessionError(w, err)
			return
		}
		snap := cfg.Controller.Snapshot()
		WriteJSON(w, http.StatusAccepted, ConvertResponse{State: snap.State, JobID: snap.JobID})
	}
}

func downloadURLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		url, err := cfg.Controller.DownloadURL()
		if err != nil {
			writeSessionError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, DownloadResponse{URL: url})
	}
}

// downloadFileHandler buffers the sticker so a service failure can still be
// reported as a JSON error.
func downloadFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := cfg.Controller.Snapshot()
		if snap.State != session.StateSucceeded || snap.Result == nil {
			writeSessionError(w, session.ErrNoResult)
			return
		}

		var buf bytes.Buffer
		if _, err := cfg.Controller.Download(r.Context(), &buf); err != nil {
			cfg.Logger.Error("sticker download failed", "error", err, "file_id", snap.Result.FileID)
			writeSessionError(w, err)
			return
		}

		w.Header().Set("Content-Type", "image/webp")
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", snap.Result.FileID+".webp"))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

func resetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Controller.Reset()
		WriteJSON(w, http.StatusOK, cfg.Controller.Snapshot())
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, maxJobsLimit)
		}

		list, err := cfg.Jobs.ListJobs(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(list))}
		for i, j := range list {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Jobs.GetJob(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func previewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		if err := cfg.Previews.Serve(w, r, token); err != nil {
			cfg.Logger.Error("preview error", "error", err)
		}
	}
}

// writeSessionError maps controller and service errors onto HTTP statuses.
func writeSessionError(w http.ResponseWriter, err error) {
	var svcErr *convert.ServiceError
	var tErr *convert.TransportError

	switch {
	case errors.Is(err, session.ErrSubmitInFlight):
		WriteError(w, http.StatusConflict, err.Error(), "IN_FLIGHT")
	case errors.Is(err, session.ErrNoResult):
		WriteError(w, http.StatusConflict, err.Error(), "NO_RESULT")
	case errors.Is(err, session.ErrNoSource):
		WriteError(w, http.StatusBadRequest, session.MessageNoSource, "NO_SOURCE")
	case errors.Is(err, session.ErrInvalidCrop):
		WriteError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), session.ErrInvalidCrop.Error()+": "), "INVALID_CROP")
	case errors.Is(err, session.ErrUnsupportedFile):
		WriteError(w, http.StatusUnsupportedMediaType, err.Error(), "UNSUPPORTED_FILE")
	case errors.Is(err, session.ErrUnknownSetting):
		WriteError(w, http.StatusNotFound, err.Error(), "UNKNOWN_SETTING")
	case errors.Is(err, session.ErrInvalidValue):
		WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_VALUE")
	case errors.Is(err, session.ErrClosed):
		WriteError(w, http.StatusServiceUnavailable, err.Error(), "UNAVAILABLE")
	case errors.Is(err, fs.ErrNotExist):
		WriteError(w, http.StatusNotFound, "file not found", "NOT_FOUND")
	case errors.As(err, &svcErr):
		WriteError(w, http.StatusBadGateway, svcErr.Message, "SERVICE_ERROR")
	case errors.As(err, &tErr):
		WriteError(w, http.StatusBadGateway, tErr.Message, "TRANSPORT_ERROR")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
