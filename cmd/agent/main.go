package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cliplab/cliplab-agent/internal/api"
	"github.com/cliplab/cliplab-agent/internal/config"
	"github.com/cliplab/cliplab-agent/internal/db"
	"github.com/cliplab/cliplab-agent/internal/export"
	"github.com/cliplab/cliplab-agent/internal/jobs"
	"github.com/cliplab/cliplab-agent/internal/library"
	"github.com/cliplab/cliplab-agent/internal/logging"
	"github.com/cliplab/cliplab-agent/internal/playback"
	"github.com/cliplab/cliplab-agent/internal/preview"
	"github.com/cliplab/cliplab-agent/internal/provenance"
	"github.com/cliplab/cliplab-agent/internal/transform"
)

var Version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	// .env is optional; environment variables win over file values.
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting cliplab agent",
		"version", Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"library_dir", logging.SanitizePath(cfg.LibraryDir()),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := jobs.NewRepository(database.Conn())

	deviceID, err := ensureDeviceID(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                    CLIPLAB AGENT v0.1.0                   ║")
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	store := provenance.NewStore(logger)

	index, err := library.NewIndex(cfg.LibraryDir(), store, logger)
	if err != nil {
		return fmt.Errorf("failed to open library: %w", err)
	}

	var frameTransform transform.FrameTransform
	var grabber preview.FrameGrabber

	ffmpeg, err := transform.NewFFmpeg(transform.FFmpegConfig{
		FFmpegPath:       cfg.FFmpegPath(),
		FFprobePath:      cfg.FFprobePath(),
		TransformTimeout: cfg.TransformTimeout(),
		ProbeTimeout:     cfg.ProbeTimeout(),
		Logger:           logger,
	})
	if err != nil {
		logger.Warn("ffmpeg unavailable, exports degrade to byte copies and previews are disabled", "error", err)
		frameTransform = transform.NewStub(logger)
	} else {
		frameTransform = ffmpeg
		grabber = ffmpeg
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := export.NewManager(index.Root(), frameTransform, store, repo, logger)

	watcher := library.NewWatcher(index.Root(), logger)
	manager.ExpectOutputs(watcher)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Warn("library watcher stopped", "error", err)
		}
	}()

	var previews *preview.Generator
	if grabber != nil {
		previews, err = preview.NewGenerator(cfg.PreviewCacheDir(), grabber, logger)
		if err != nil {
			logger.Warn("preview cache unavailable", "error", err)
		}
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port(),
		Library:    index,
		Playback:   playback.NewServer(logger),
		Provenance: store,
		Exports:    manager,
		Previews:   previews,
		Repository: repo,
		Logger:     logger,
		StartTime:  startTime,
		DeviceID:   deviceID,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func ensureDeviceID(repo jobs.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "device_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", err
	}
	deviceID := hex.EncodeToString(idBytes)

	if err := repo.SetConfig(ctx, "device_id", deviceID); err != nil {
		return "", err
	}

	return deviceID, nil
}

func ensureAuthToken(repo jobs.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
