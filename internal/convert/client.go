// Package convert is the client for the remote sticker Conversion Service.
package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/stickerkit/sticker-agent/internal/logging"
)

const (
	maxErrorBodyBytes    = 64 * 1024
	maxResponseBodyBytes = 64 * 1024

	defaultTimeout = 120 * time.Second
)

// Service is the contract the agent relies on.
type Service interface {
	Convert(ctx context.Context, req Request) (*Response, error)
	DownloadURL(fileID string) string
	Download(ctx context.Context, fileID string, w io.Writer) (int64, error)
	Health(ctx context.Context) (*HealthStatus, error)
}

// HTTPClient talks to the Conversion Service over HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Convert uploads the source clip with its parameters and returns the
// service's handle for the produced sticker.
func (c *HTTPClient) Convert(ctx context.Context, r Request) (*Response, error) {
	body, length, contentType, closer, err := buildMultipart(r)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	endpoint := fmt.Sprintf("%s/convert", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = length
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)

	c.logger.Info("submitting conversion",
		"url", endpoint,
		"request_id", requestID,
		"source", logging.SanitizePath(r.SourcePath),
		"body_bytes", length,
		"max_duration", r.MaxDuration,
		"quality", r.Quality,
		"speed", r.Speed,
		"crop_start", r.CropStart,
		"crop_end_set", r.CropEnd != nil,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyDoError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, responseError(resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Message: "failed to read conversion response", Err: err}
	}

	var result Response
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Message: "invalid response from conversion service", Err: err}
	}
	if result.FileID == "" {
		return nil, &TransportError{StatusCode: resp.StatusCode, Message: "conversion response is missing file_id"}
	}

	c.logger.Info("conversion succeeded",
		"request_id", requestID,
		"file_id", result.FileID,
		"size_kb", result.SizeKB,
		"warning", result.Warning,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &result, nil
}

// DownloadURL is the retrieval reference for a produced sticker.
func (c *HTTPClient) DownloadURL(fileID string) string {
	return fmt.Sprintf("%s/download/%s", c.baseURL, url.PathEscape(fileID))
}

// Download streams the produced sticker into w.
func (c *HTTPClient) Download(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DownloadURL(fileID), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, classifyDoError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, responseError(resp)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("copy sticker body: %w", err)
	}
	c.logger.Info("sticker downloaded", "file_id", fileID, "bytes", n)
	return n, nil
}

// Health probes GET /health. An unreachable service is reported through the
// returned status, not as an error; err is reserved for request construction.
func (c *HTTPClient) Health(ctx context.Context) (*HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	status := &HealthStatus{CheckedAt: time.Now()}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		status.Error = err.Error()
		return status, nil
	}
	defer resp.Body.Close()

	var body struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)

	status.Status = body.Status
	status.Message = body.Message
	status.Reachable = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !status.Reachable {
		status.Error = fmt.Sprintf("health check returned HTTP %d", resp.StatusCode)
	}
	return status, nil
}

// buildMultipart lays out the form so the request carries an exact
// Content-Length: buffered fields and file-part header, the file itself,
// then the closing boundary.
func buildMultipart(r Request) (io.Reader, int64, string, io.Closer, error) {
	f, err := os.Open(r.SourcePath)
	if err != nil {
		return nil, 0, "", nil, fmt.Errorf("open source: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, "", nil, fmt.Errorf("stat source: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, field := range r.Fields() {
		if err := mw.WriteField(field.Name, field.Value); err != nil {
			f.Close()
			return nil, 0, "", nil, fmt.Errorf("write field %s: %w", field.Name, err)
		}
	}

	name := r.SourceName
	if name == "" {
		name = filepath.Base(r.SourcePath)
	}
	if _, err := mw.CreateFormFile(FieldVideo, name); err != nil {
		f.Close()
		return nil, 0, "", nil, fmt.Errorf("create file part: %w", err)
	}

	head := append([]byte(nil), buf.Bytes()...)
	buf.Reset()
	if err := mw.Close(); err != nil {
		f.Close()
		return nil, 0, "", nil, fmt.Errorf("close multipart: %w", err)
	}
	tail := append([]byte(nil), buf.Bytes()...)

	length := int64(len(head)) + stat.Size() + int64(len(tail))
	body := io.MultiReader(bytes.NewReader(head), f, bytes.NewReader(tail))
	return body, length, mw.FormDataContentType(), f, nil
}

func responseError(resp *http.Response) error {
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var eb errorBody
	if err := json.Unmarshal(respBody, &eb); err == nil && eb.Error != "" {
		return &ServiceError{StatusCode: resp.StatusCode, Message: eb.Error}
	}
	return &TransportError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("Request failed with status code %d", resp.StatusCode),
	}
}

func classifyDoError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("conversion request abandoned: %w", err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TransportError{Message: "conversion request timed out", Err: err}
	}
	return fmt.Errorf("%w: %v", ErrNoResponse, err)
}
