package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/stickerkit/sticker-agent/internal/api"
	"github.com/stickerkit/sticker-agent/internal/config"
	"github.com/stickerkit/sticker-agent/internal/convert"
	"github.com/stickerkit/sticker-agent/internal/db"
	"github.com/stickerkit/sticker-agent/internal/jobs"
	"github.com/stickerkit/sticker-agent/internal/logging"
	"github.com/stickerkit/sticker-agent/internal/media"
	"github.com/stickerkit/sticker-agent/internal/preview"
	"github.com/stickerkit/sticker-agent/internal/session"
	"github.com/stickerkit/sticker-agent/internal/ui"
	"github.com/stickerkit/sticker-agent/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	loadedEnv, err := config.LoadDotEnv(config.DefaultEnvFile)
	if err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting sticker agent",
		"version", config.Version,
		"commit", config.GitCommit,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"env_files", loadedEnv,
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	jobRepo := jobs.NewRepository(database.Conn())

	client := convert.NewHTTPClient(cfg.APIURL(), cfg.RequestTimeout(), logging.WithComponent(logger, "convert"))
	health := convert.NewCachedHealth(client, logger)

	probeCtx, probeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if status, err := health.Refresh(probeCtx); err != nil {
		logger.Warn("initial service probe failed", "error", err)
	} else if status.Reachable {
		logger.Info("conversion service reachable", "url", cfg.APIURL(), "status", status.Status)
	}
	probeCancel()

	previewBase := fmt.Sprintf("http://127.0.0.1:%d/preview", cfg.Port())
	previews := preview.NewRegistry(previewBase, logging.WithComponent(logger, "preview"))

	controller := session.NewController(session.ControllerConfig{
		Converter:       client,
		Extractor:       media.NewFFprobe(cfg.FFprobePath(), logging.WithComponent(logger, "ffprobe")),
		Previews:        previews,
		Jobs:            jobRepo,
		MetadataTimeout: cfg.MetadataTimeout(),
		Logger:          logger,
	})

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                  STICKER AGENT v%-26s║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  Control API:  http://127.0.0.1:%-26d║\n", cfg.Port())
	fmt.Printf("║  Service:      %-43s║\n", truncate(client.BaseURL(), 43))
	fmt.Printf("║  Stickers:     %-43s║\n", truncate(logging.SanitizePath(cfg.DownloadsDir()), 43))
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port(),
		Controller: controller,
		Jobs:       jobRepo,
		Previews:   previews,
		Health:     health,
		Logger:     logger,
		StartTime:  startTime,
		Version:    config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go health.Run(ctx)

	var dropFolder watcher.Watcher
	if dir := cfg.WatchDir(); dir != "" {
		fsw := watcher.NewFSWatcher(0, logger)
		fsw.OnChange(func(path string, event watcher.EventType) {
			if event == watcher.EventDelete {
				return
			}
			if err := controller.SelectFile(path); err != nil {
				logger.Warn("drop folder file rejected", "path", logging.SanitizePath(path), "error", err)
			}
		})
		if err := fsw.Watch(ctx, dir); err != nil {
			logger.Error("drop folder disabled", "error", err)
		} else {
			dropFolder = fsw
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case <-quitCh:
		}
	}()

	var tray *ui.Tray
	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray = ui.NewTray(ui.TrayConfig{
			Controller:   controller,
			DownloadsDir: cfg.DownloadsDir(),
			Logger:       logger,
			OnQuit:       quit,
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	if tray != nil {
		tray.Quit()
	}

	if dropFolder != nil {
		if err := dropFolder.Stop(); err != nil {
			logger.Error("failed to stop drop folder watcher", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	controller.Close()

	logger.Info("shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
