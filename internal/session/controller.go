// Package session holds the single live conversion session: the selected
// clip, its settings, and the request lifecycle against the Conversion
// Service.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/stickerkit/sticker-agent/internal/convert"
	"github.com/stickerkit/sticker-agent/internal/jobs"
	"github.com/stickerkit/sticker-agent/internal/logging"
	"github.com/stickerkit/sticker-agent/internal/media"
	"github.com/stickerkit/sticker-agent/internal/preview"
)

const (
	defaultMetadataTimeout = 30 * time.Second
	ledgerTimeout          = 5 * time.Second
)

// Converter is the part of the Conversion Service the session drives.
type Converter interface {
	Convert(ctx context.Context, req convert.Request) (*convert.Response, error)
	DownloadURL(fileID string) string
	Download(ctx context.Context, fileID string, w io.Writer) (int64, error)
}

// PreviewProvider allocates renderable references to the selected clip.
type PreviewProvider interface {
	Acquire(path string) (preview.Handle, error)
	Release(h preview.Handle)
}

// JobRecorder persists submissions and their outcomes.
type JobRecorder interface {
	CreateJob(ctx context.Context, job *jobs.Job) error
	CompleteJob(ctx context.Context, id, fileID string, sizeKB float64, warning bool) error
	FailJob(ctx context.Context, id, errorMsg string) error
}

type ControllerConfig struct {
	Converter       Converter
	Extractor       media.Extractor
	Previews        PreviewProvider
	Jobs            JobRecorder
	MetadataTimeout time.Duration
	Logger          *slog.Logger
}

// Controller owns the session state. All mutation goes through its methods;
// metadata extraction and the conversion round trip run in the background
// and report back through the same lock.
type Controller struct {
	converter       Converter
	extractor       media.Extractor
	previews        PreviewProvider
	jobs            JobRecorder
	metadataTimeout time.Duration
	logger          *slog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu           sync.Mutex
	closed       bool
	generation   uint64
	source       *Source
	handle       preview.Handle
	settings     Settings
	state        RequestState
	result       *Result
	errMsg       string
	jobID        string
	cancelMeta   context.CancelFunc
	cancelSubmit context.CancelFunc
	listeners    []func(Snapshot)
	seq          uint64

	notifyMu  sync.Mutex
	delivered uint64
}

func NewController(cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := cfg.MetadataTimeout
	if timeout <= 0 {
		timeout = defaultMetadataTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		converter:       cfg.Converter,
		extractor:       cfg.Extractor,
		previews:        cfg.Previews,
		jobs:            cfg.Jobs,
		metadataTimeout: timeout,
		logger:          logging.WithComponent(logger, "session"),
		baseCtx:         ctx,
		baseCancel:      cancel,
		settings:        DefaultSettings(),
		state:           StateIdle,
	}
}

// OnChange registers fn to receive a snapshot after every state change.
// Snapshots reach listeners in Seq order; one superseded before delivery is
// skipped. fn runs on the goroutine that made the change and must not call
// back into the controller's mutating methods.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Settings:   c.settings.clone(),
		Resolution: c.settings.Resolution(),
		State:      c.state,
		Error:      c.errMsg,
		JobID:      c.jobID,
		Seq:        c.seq,
	}
	if c.source != nil {
		src := *c.source
		snap.Source = &src
	}
	if c.result != nil {
		res := *c.result
		snap.Result = &res
	}
	return snap
}

// commit releases the lock and notifies listeners with the state it held.
// A commit that loses the race to a newer one is not delivered.
func (c *Controller) commit() {
	c.seq++
	snap := c.snapshotLocked()
	listeners := append([]func(Snapshot){}, c.listeners...)
	c.mu.Unlock()

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if snap.Seq <= c.delivered {
		return
	}
	c.delivered = snap.Seq
	for _, fn := range listeners {
		fn(snap)
	}
}

// SelectFile replaces the session's source with path. Settings, result and
// request state return to their defaults and duration extraction starts in
// the background. Any pending extraction or in-flight conversion for the
// previous source is abandoned.
func (c *Controller) SelectFile(path string) error {
	if !media.IsSupported(path) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(path))
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("source file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("source file: %s is a directory", absPath)
	}

	handle, err := c.previews.Acquire(absPath)
	if err != nil {
		return fmt.Errorf("acquire preview: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.previews.Release(handle)
		return ErrClosed
	}

	c.clearLocked()
	c.handle = handle
	c.source = &Source{
		Path:       absPath,
		Name:       filepath.Base(absPath),
		SizeBytes:  info.Size(),
		Metadata:   MetadataExtracting,
		PreviewURL: handle.URL,
		SelectedAt: time.Now(),
	}

	metaCtx, cancel := context.WithTimeout(c.baseCtx, c.metadataTimeout)
	c.cancelMeta = cancel
	gen := c.generation

	c.wg.Add(1)
	go c.extractDuration(metaCtx, cancel, gen, absPath)

	c.logger.Info("source selected",
		"path", logging.SanitizePath(absPath),
		"size_bytes", info.Size(),
	)
	c.commit()
	return nil
}

func (c *Controller) extractDuration(ctx context.Context, cancel context.CancelFunc, gen uint64, path string) {
	defer c.wg.Done()
	defer cancel()

	duration, err := c.extractor.Duration(ctx, path)

	c.mu.Lock()
	if gen != c.generation || c.source == nil {
		c.mu.Unlock()
		c.logger.Debug("discarding stale duration", "path", logging.SanitizePath(path))
		return
	}
	c.cancelMeta = nil

	if err != nil || duration <= 0 {
		if err == nil {
			err = media.ErrNoDuration
		}
		c.source.Metadata = MetadataFailed
		c.logger.Warn("duration extraction failed, keeping default settings",
			"path", logging.SanitizePath(path),
			"error", err,
		)
		c.commit()
		return
	}

	end := float64(duration)
	c.source.DurationSeconds = duration
	c.source.Metadata = MetadataResolved
	c.settings.MaxDuration = defaultMaxDurationFor(duration)
	c.settings.CropEnd = &end

	c.logger.Info("duration resolved", "duration_s", duration, "max_duration", c.settings.MaxDuration)
	c.commit()
}

// UpdateSetting parses raw for the named field and stores it. Speed, quality
// and max duration are clamped to their ranges. An empty crop_end means the
// end of the source.
func (c *Controller) UpdateSetting(field, raw string) error {
	c.mu.Lock()
	if err := c.settings.apply(field, raw); err != nil {
		c.mu.Unlock()
		return err
	}
	c.commit()
	return nil
}

func (c *Controller) SetSpeed(v float64) {
	c.update(func(s *Settings) { s.Speed = ClampSpeed(v) })
}

func (c *Controller) SetQuality(v int) {
	c.update(func(s *Settings) { s.Quality = ClampQuality(v) })
}

func (c *Controller) SetMaxDuration(v int) {
	c.update(func(s *Settings) { s.MaxDuration = ClampMaxDuration(v) })
}

func (c *Controller) SetCropStart(v float64) {
	c.update(func(s *Settings) { s.CropStart = v })
}

// SetCropEnd sets the end of the crop window; nil means the end of the source.
func (c *Controller) SetCropEnd(v *float64) {
	c.update(func(s *Settings) {
		if v == nil {
			s.CropEnd = nil
			return
		}
		end := *v
		s.CropEnd = &end
	})
}

func (c *Controller) update(fn func(*Settings)) {
	c.mu.Lock()
	fn(&c.settings)
	c.commit()
}

// Submit validates the session and starts the conversion round trip. It
// returns once the request is dispatched; the outcome is observed through
// Snapshot or OnChange. While a request is in flight Submit returns
// ErrSubmitInFlight and changes nothing.
func (c *Controller) Submit() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateSubmitting {
		c.mu.Unlock()
		return ErrSubmitInFlight
	}
	if c.source == nil {
		c.fail(MessageNoSource)
		c.commit()
		return ErrNoSource
	}
	if msg := c.settings.validateCrop(c.source.DurationSeconds); msg != "" {
		c.fail(msg)
		c.commit()
		return fmt.Errorf("%w: %s", ErrInvalidCrop, msg)
	}

	s := c.settings.clone()
	req := convert.Request{
		SourcePath:  c.source.Path,
		SourceName:  c.source.Name,
		MaxDuration: s.MaxDuration,
		Quality:     s.Quality,
		Speed:       s.Speed,
		CropStart:   s.CropStart,
		CropEnd:     s.CropEnd,
	}

	c.state = StateSubmitting
	c.result = nil
	c.errMsg = ""
	c.jobID = c.recordStart(req)

	ctx, cancel := context.WithCancel(c.baseCtx)
	c.cancelSubmit = cancel
	gen := c.generation
	jobID := c.jobID

	c.wg.Add(1)
	go c.runConversion(ctx, cancel, gen, jobID, req)

	c.commit()
	return nil
}

func (c *Controller) runConversion(ctx context.Context, cancel context.CancelFunc, gen uint64, jobID string, req convert.Request) {
	defer c.wg.Done()
	defer cancel()

	log := c.logger
	if jobID != "" {
		log = logging.WithJobID(log, jobID)
	}

	resp, err := c.converter.Convert(ctx, req)
	if err == nil {
		c.recordSuccess(jobID, resp)
	} else if errors.Is(err, context.Canceled) {
		c.recordFailure(jobID, "abandoned")
	} else {
		c.recordFailure(jobID, ErrorMessage(err))
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		log.Info("discarding outcome of abandoned conversion", "error", err)
		return
	}
	c.cancelSubmit = nil

	if err != nil {
		msg := ErrorMessage(err)
		log.Warn("conversion failed", "error", err, "message", msg)
		c.fail(msg)
		c.commit()
		return
	}

	c.state = StateSucceeded
	c.result = &Result{
		FileID:   resp.FileID,
		Filename: resp.Filename,
		SizeKB:   resp.SizeKB,
		Warning:  resp.Warning,
	}
	log.Info("conversion complete", "file_id", resp.FileID, "size_kb", resp.SizeKB, "warning", resp.Warning)
	c.commit()
}

// ErrorMessage maps a conversion failure to the text shown to the user: the
// service's own message, else the transport's, else a generic hint that the
// conversion toolchain is missing.
func ErrorMessage(err error) string {
	var svcErr *convert.ServiceError
	if errors.As(err, &svcErr) && svcErr.Message != "" {
		return svcErr.Message
	}
	var tErr *convert.TransportError
	if errors.As(err, &tErr) && tErr.Message != "" {
		return tErr.Message
	}
	return MessageFallback
}

func (c *Controller) fail(msg string) {
	c.state = StateFailed
	c.result = nil
	c.errMsg = msg
}

// DownloadURL returns the retrieval reference for the converted sticker.
func (c *Controller) DownloadURL() (string, error) {
	res, err := c.currentResult()
	if err != nil {
		return "", err
	}
	return c.converter.DownloadURL(res.FileID), nil
}

// Download streams the converted sticker into w.
func (c *Controller) Download(ctx context.Context, w io.Writer) (int64, error) {
	res, err := c.currentResult()
	if err != nil {
		return 0, err
	}
	return c.converter.Download(ctx, res.FileID, w)
}

// SaveTo downloads the converted sticker into dir and returns its path.
func (c *Controller) SaveTo(ctx context.Context, dir string) (string, error) {
	res, err := c.currentResult()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	dest := filepath.Join(dir, stickerFilename(res))
	tmp, err := os.CreateTemp(dir, ".sticker-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := c.converter.Download(ctx, res.FileID, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("download sticker: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("save sticker: %w", err)
	}

	c.logger.Info("sticker saved", "path", logging.SanitizePath(dest), "bytes", n)
	return dest, nil
}

func stickerFilename(res *Result) string {
	name := filepath.Base(res.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = res.FileID
	}
	if !strings.EqualFold(filepath.Ext(name), ".webp") {
		name += ".webp"
	}
	return name
}

func (c *Controller) currentResult() (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateSucceeded || c.result == nil {
		return nil, ErrNoResult
	}
	res := *c.result
	return &res, nil
}

// Reset returns the session to its empty initial state. A pending extraction
// or in-flight conversion is abandoned and its outcome ignored.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.clearLocked()
	c.logger.Info("session reset")
	c.commit()
}

// clearLocked drops the source, settings and request state, cancelling any
// background work tied to the current generation.
func (c *Controller) clearLocked() {
	c.generation++

	if c.cancelMeta != nil {
		c.cancelMeta()
		c.cancelMeta = nil
	}
	if c.cancelSubmit != nil {
		c.cancelSubmit()
		c.cancelSubmit = nil
	}
	if !c.handle.IsZero() {
		c.previews.Release(c.handle)
		c.handle = preview.Handle{}
	}

	c.source = nil
	c.settings = DefaultSettings()
	c.state = StateIdle
	c.result = nil
	c.errMsg = ""
	c.jobID = ""
}

// Wait blocks until background extraction and conversion work has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close abandons all background work, releases the preview and waits for
// goroutines to exit. The controller rejects further selections and
// submissions.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.clearLocked()
	c.mu.Unlock()

	c.baseCancel()
	c.wg.Wait()
}

func (c *Controller) recordStart(req convert.Request) string {
	if c.jobs == nil {
		return ""
	}

	now := time.Now()
	job := &jobs.Job{
		ID:          jobs.NewID(),
		Status:      jobs.StatusRunning,
		SourceName:  req.SourceName,
		Speed:       req.Speed,
		CropStart:   req.CropStart,
		CropEnd:     req.CropEnd,
		MaxDuration: req.MaxDuration,
		Quality:     req.Quality,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	if err := c.jobs.CreateJob(ctx, job); err != nil {
		c.logger.Error("failed to record job", "error", err)
		return ""
	}
	return job.ID
}

func (c *Controller) recordSuccess(jobID string, resp *convert.Response) {
	if c.jobs == nil || jobID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	if err := c.jobs.CompleteJob(ctx, jobID, resp.FileID, resp.SizeKB, resp.Warning); err != nil {
		c.logger.Error("failed to complete job", "job_id", jobID, "error", err)
	}
}

func (c *Controller) recordFailure(jobID, msg string) {
	if c.jobs == nil || jobID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	if err := c.jobs.FailJob(ctx, jobID, msg); err != nil {
		c.logger.Error("failed to fail job", "job_id", jobID, "error", err)
	}
}
