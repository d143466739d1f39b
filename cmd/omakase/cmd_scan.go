package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/backtrue/omakase-app/internal/imagestore"
	"github.com/backtrue/omakase-app/internal/knowledge"
	"github.com/backtrue/omakase-app/internal/prompt"
	"github.com/backtrue/omakase-app/internal/scan"
	"github.com/backtrue/omakase-app/internal/types"
	"github.com/backtrue/omakase-app/pkg/vlm"
	"github.com/backtrue/omakase-app/pkg/vlm/gemini"
)

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().String("language", "zh-TW", "target language for translations")
	scanCmd.Flags().String("out", "", "directory to write generated images into")
}

var scanCmd = &cobra.Command{
	Use:   "scan <image-file>",
	Short: "Scan a menu photo once and print the event stream",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	language, _ := cmd.Flags().GetString("language")
	outDir, _ := cmd.Flags().GetString("out")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	var providers vlm.Factory
	if cfg.Gemini.APIKey != "" {
		providers = gemini.Factory(vlm.Config{
			APIKey:          cfg.Gemini.APIKey,
			MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
			Temperature:     cfg.Gemini.Temperature,
		})
	} else {
		slog.Warn("gemini disabled (no api key), printing mock scan results")
	}

	prompts, err := prompt.NewBuilder(cfg.TranslatePromptTokens)
	if err != nil {
		return fmt.Errorf("create prompt builder: %w", err)
	}

	images := imagestore.NewMemory()
	orchestrator := scan.New(providers, knowledge.NewMemory(), images, prompts, slog.Default(), scanOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	sessionID := types.NewSessionID()
	orchestrator.Run(ctx, scan.Request{
		SessionID:   sessionID,
		ImageBase64: base64.StdEncoding.EncodeToString(data),
		Language:    language,
	}, &printEmitter{})

	if outDir != "" {
		if err := dumpImages(ctx, images, outDir); err != nil {
			return err
		}
	}
	return nil
}

// dumpImages writes every generated asset from the in-memory store to disk.
func dumpImages(ctx context.Context, images *imagestore.Memory, outDir string) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	written := 0
	for _, key := range images.Keys() {
		data, err := images.Get(ctx, key)
		if err != nil {
			continue
		}
		name := fmt.Sprintf("%s/%s", outDir, sanitizeFileName(key))
		if err := os.WriteFile(name, data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		written++
	}
	if written > 0 {
		fmt.Fprintf(os.Stderr, "wrote %d images to %s\n", written, outDir)
	}
	return nil
}

func sanitizeFileName(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		if r == '/' {
			r = '_'
		}
		out = append(out, r)
	}
	return string(out)
}

// printEmitter writes each event as one JSON line on stdout.
type printEmitter struct{}

func (e *printEmitter) print(kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(os.Stdout, "%s\t%s\n", kind, data)
}

func (e *printEmitter) Status(p types.StatusPayload)           { e.print("status", p) }
func (e *printEmitter) MenuData(p types.MenuDataPayload)       { e.print("menu_data", p) }
func (e *printEmitter) ImageUpdate(p types.ImageUpdatePayload) { e.print("image_update", p) }
func (e *printEmitter) Fail(p types.ErrorPayload)              { e.print("error", p) }
func (e *printEmitter) Done(p types.DonePayload)               { e.print("done", p) }
func (e *printEmitter) Heartbeat()                             {}
