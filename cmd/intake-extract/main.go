package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/duncanmillerza/hadada-intake/internal/app"
	"github.com/duncanmillerza/hadada-intake/internal/common"
	"github.com/duncanmillerza/hadada-intake/internal/pipeline"
)

func main() {
	var (
		imagePath = flag.String("image", "", "path to the scanned form image (required)")
		version   = flag.String("template", "", "template version (default from config)")
		threshold = flag.Float64("threshold", 0, "fallback trigger threshold override, 0 keeps config")
		noRemote  = flag.Bool("no-remote", false, "disable the remote fallback for this run")
		userRef   = flag.String("user-ref", "", "operator reference recorded (hashed) in the audit trail")
		pretty    = flag.Bool("pretty", false, "indent the JSON output")
	)
	flag.Parse()

	// The response JSON goes to stdout; logs stay on stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if *imagePath == "" {
		fmt.Fprintln(os.Stderr, "usage: intake-extract --image <path> [--template <version>]")
		os.Exit(2)
	}

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if *threshold > 0 {
		cfg.Pipeline.FallbackThreshold = *threshold
	}
	if *noRemote {
		cfg.Remote.Enabled = false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("assemble pipeline", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Error("close audit sink", "error", cerr)
		}
	}()

	data, err := os.ReadFile(*imagePath)
	if err != nil {
		logger.Error("read image", "error", err)
		os.Exit(1)
	}
	if limit := int64(cfg.Server.MaxUploadMB) << 20; int64(len(data)) > limit {
		logger.Error("reject image", "error", fmt.Errorf("%w: %d bytes (limit %d)", common.ErrImageTooLarge, len(data), limit))
		os.Exit(1)
	}

	resp, err := a.Processor.Process(ctx, pipeline.Request{
		ImageData:       data,
		TemplateVersion: *version,
		UserIdentifier:  *userRef,
	})
	if err != nil {
		logger.Error("extraction failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(resp); err != nil {
		logger.Error("encode response", "error", err)
		os.Exit(1)
	}
}
