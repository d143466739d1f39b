package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/backtrue/omakase-app/internal/config"
	"github.com/backtrue/omakase-app/internal/httpapi"
	"github.com/backtrue/omakase-app/internal/imagestore"
	"github.com/backtrue/omakase-app/internal/janitor"
	"github.com/backtrue/omakase-app/internal/knowledge"
	"github.com/backtrue/omakase-app/internal/notify"
	"github.com/backtrue/omakase-app/internal/prompt"
	"github.com/backtrue/omakase-app/internal/scan"
	"github.com/backtrue/omakase-app/internal/state"
	"github.com/backtrue/omakase-app/internal/types"
	"github.com/backtrue/omakase-app/pkg/vlm"
	"github.com/backtrue/omakase-app/pkg/vlm/gemini"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scan service daemon",
	RunE:  runServe,
}

func scanOptions(cfg *config.Config) scan.Options {
	secs := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return scan.Options{
		Budget: scan.BudgetOptions{
			FirstResult:       secs(cfg.Budget.FirstResultSeconds),
			HardCap:           secs(cfg.Budget.HardCapSeconds),
			PrimaryAttempt:    secs(cfg.Budget.PrimaryAttemptSeconds),
			FallbackAllowance: secs(cfg.Budget.FallbackAllowanceSeconds),
			PerSegment:        secs(cfg.Budget.PerSegmentSeconds),
		},
		Heartbeat:       secs(cfg.Budget.HeartbeatSeconds),
		StoreTimeout:    secs(cfg.Budget.StoreSeconds),
		ImageTimeout:    secs(cfg.Budget.ImageSeconds),
		VisionPrimary:   cfg.Gemini.VisionModel,
		VisionFallback:  cfg.Gemini.FallbackModel,
		ImagePrimary:    cfg.Gemini.ImageModel,
		ImageFallback:   cfg.Gemini.ImageFallback,
		PublicBaseURL:   cfg.PublicBaseURL,
		DefaultLanguage: "zh-TW",
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Vision provider. Without an API key scans run against the built-in
	// mock data, which is enough for client development.
	var providers vlm.Factory
	if cfg.Gemini.APIKey != "" {
		providers = gemini.Factory(vlm.Config{
			APIKey:          cfg.Gemini.APIKey,
			MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
			Temperature:     cfg.Gemini.Temperature,
		})
	} else {
		slog.Warn("gemini disabled (no api key), serving mock scan results")
	}

	// Knowledge cache
	var knowledgeStore types.KnowledgeStore
	if cfg.Database.DSN != "" {
		store, err := knowledge.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open knowledge store: %w", err)
		}
		defer store.Close()
		knowledgeStore = store
	} else {
		slog.Warn("database not configured, dish knowledge will not survive restarts")
		knowledgeStore = knowledge.NewMemory()
	}

	// Image storage
	var images types.ImageStore
	if cfg.Storage.Bucket != "" {
		s3Store, err := imagestore.NewS3(ctx, imagestore.S3Config{
			Endpoint:        cfg.Storage.Endpoint,
			Region:          cfg.Storage.Region,
			Bucket:          cfg.Storage.Bucket,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			KeyPrefix:       cfg.Storage.KeyPrefix,
		})
		if err != nil {
			return fmt.Errorf("open image store: %w", err)
		}
		images = s3Store
	} else {
		slog.Warn("object storage not configured, images held in memory only")
		images = imagestore.NewMemory()
	}

	prompts, err := prompt.NewBuilder(cfg.TranslatePromptTokens)
	if err != nil {
		return fmt.Errorf("create prompt builder: %w", err)
	}

	orchestrator := scan.New(providers, knowledgeStore, images, prompts, slog.Default(), scanOptions(cfg))

	// Resumable job state
	jobs := state.NewJobStore(cfg.DataDir)
	events := state.NewEventStore(cfg.DataDir, 0)
	hub := state.NewHub()

	// Notifications
	notifiers := notify.Multi{notify.NewExpo(cfg.Expo.Endpoint)}
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return fmt.Errorf("create telegram notifier: %w", err)
		}
		notifiers = append(notifiers, tg)
		slog.Info("telegram notifications enabled")
	}

	runner := state.NewRunner(orchestrator, jobs, events, hub, images, notifiers, slog.Default(), int64(cfg.MaxConcurrent), 0)
	runner.Start(ctx)
	defer runner.Stop()

	sweeper := janitor.New(jobs, slog.Default(), "")
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	defer sweeper.Stop()

	api := httpapi.NewServer(orchestrator, runner, jobs, events, hub, images, slog.Default(),
		time.Duration(cfg.Budget.HeartbeatSeconds)*time.Second, 5*time.Minute)
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}

	go func() {
		slog.Info("omakase started",
			"addr", cfg.HTTPAddr,
			"data_dir", cfg.DataDir,
			"public_base_url", cfg.PublicBaseURL,
			"max_concurrent", cfg.MaxConcurrent,
			"vision_model", cfg.Gemini.VisionModel,
			"image_model", cfg.Gemini.ImageModel,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		slog.Info("shutting down", "signal", sig)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}
