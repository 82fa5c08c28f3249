package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/getlantern/systray"

	"github.com/stickerkit/sticker-agent/internal/logging"
	"github.com/stickerkit/sticker-agent/internal/session"
)

const saveTimeout = 2 * time.Minute

// TrayController is the part of session.Controller the tray drives.
type TrayController interface {
	Snapshot() session.Snapshot
	OnChange(fn func(session.Snapshot))
	Submit() error
	SaveTo(ctx context.Context, dir string) (string, error)
	Reset()
}

type Tray struct {
	controller   TrayController
	downloadsDir string
	logger       *slog.Logger

	statusItem  *systray.MenuItem
	fileItem    *systray.MenuItem
	detailsItem *systray.MenuItem
	convertItem *systray.MenuItem
	saveItem    *systray.MenuItem
	resetItem   *systray.MenuItem

	mu    sync.Mutex
	ready bool
	shown uint64

	onQuit func()
}

type TrayConfig struct {
	Controller   TrayController
	DownloadsDir string
	Logger       *slog.Logger
	OnQuit       func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		controller:   cfg.Controller,
		downloadsDir: cfg.DownloadsDir,
		logger:       logging.WithComponent(cfg.Logger, "tray"),
		onQuit:       cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Stickers")
	systray.SetTooltip("Sticker Agent")

	t.mu.Lock()
	t.statusItem = systray.AddMenuItem("Status: Idle", "Conversion status")
	t.statusItem.Disable()

	t.fileItem = systray.AddMenuItem("No video selected", "Selected video")
	t.fileItem.Disable()

	t.detailsItem = systray.AddMenuItem("", "Conversion settings")
	t.detailsItem.Disable()

	systray.AddSeparator()

	t.convertItem = systray.AddMenuItem("Convert", "Convert the selected video to a sticker")
	t.saveItem = systray.AddMenuItem("Save Sticker", "Save the sticker to "+t.downloadsDir)
	t.resetItem = systray.AddMenuItem("Reset", "Clear the current session")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Sticker Agent")
	t.ready = true
	t.mu.Unlock()

	t.controller.OnChange(t.render)
	t.render(t.controller.Snapshot())

	go func() {
		for {
			select {
			case <-t.convertItem.ClickedCh:
				t.handleConvert()
			case <-t.saveItem.ClickedCh:
				t.handleSave()
			case <-t.resetItem.ClickedCh:
				t.controller.Reset()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) handleConvert() {
	if err := t.controller.Submit(); err != nil {
		t.logger.Warn("convert from tray rejected", "error", err)
	}
}

func (t *Tray) handleSave() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()

		path, err := t.controller.SaveTo(ctx, t.downloadsDir)
		if err != nil {
			t.logger.Error("failed to save sticker", "error", err)
			return
		}
		t.logger.Info("sticker saved from tray", "path", logging.SanitizePath(path))
	}()
}

func (t *Tray) render(snap session.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.ready || snap.Seq < t.shown {
		return
	}
	t.shown = snap.Seq

	m := menuFor(snap)
	t.statusItem.SetTitle(m.status)
	t.fileItem.SetTitle(m.file)
	t.detailsItem.SetTitle(m.details)
	setEnabled(t.convertItem, m.canConvert)
	setEnabled(t.saveItem, m.canSave)
	setEnabled(t.resetItem, m.canReset)
}

func setEnabled(item *systray.MenuItem, enabled bool) {
	if enabled {
		item.Enable()
	} else {
		item.Disable()
	}
}

type menuState struct {
	status     string
	file       string
	details    string
	canConvert bool
	canSave    bool
	canReset   bool
}

// menuFor renders a snapshot into menu titles and item states.
func menuFor(snap session.Snapshot) menuState {
	m := menuState{
		file:     "No video selected",
		details:  fmt.Sprintf("%s · %gx · max %ds", snap.Resolution, snap.Settings.Speed, snap.Settings.MaxDuration),
		canReset: snap.Source != nil || snap.State != session.StateIdle,
	}

	if src := snap.Source; src != nil {
		m.file = fmt.Sprintf("%s (%s)", src.Name, humanize.Bytes(uint64(src.SizeBytes)))
		switch src.Metadata {
		case session.MetadataResolved:
			m.file += fmt.Sprintf(" · %ds", src.DurationSeconds)
		case session.MetadataExtracting:
			m.file += " · reading…"
		}
		m.canConvert = snap.State != session.StateSubmitting
	}

	switch snap.State {
	case session.StateSubmitting:
		m.status = "Status: Converting…"
	case session.StateSucceeded:
		size := humanize.Bytes(uint64(snap.Result.SizeKB * 1024))
		m.status = "Status: Ready · " + size
		if snap.Result.Warning {
			m.status += " (over size limit)"
		}
		m.canSave = true
	case session.StateFailed:
		m.status = "Error: " + snap.Error
	default:
		m.status = "Status: Idle"
	}
	return m
}

// Quit tears down the tray from outside its menu, e.g. on a signal.
func (t *Tray) Quit() {
	systray.Quit()
}
