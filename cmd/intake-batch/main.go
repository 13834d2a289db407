package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/duncanmillerza/hadada-intake/constants"
	"github.com/duncanmillerza/hadada-intake/internal/app"
	"github.com/duncanmillerza/hadada-intake/internal/batch"
	"github.com/duncanmillerza/hadada-intake/internal/common"
)

// printError prints to stderr, falling back to stdout if stderr fails.
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir      = flag.String("dir", "", "directory of scanned forms (required)")
		version  = flag.String("template", "", "template version (default from config)")
		workers  = flag.Int("workers", 4, "concurrent extraction workers")
		out      = flag.String("out", "", "review XLSX path (defaults next to --dir)")
		jsonlOut = flag.String("jsonl", "", "optional JSONL results path")
		userRef  = flag.String("user-ref", "", "operator reference recorded (hashed) in the audit trail")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(*dir), "intake_review.xlsx")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := common.LoadConfig()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
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

	entries, err := os.ReadDir(*dir)
	if err != nil {
		logger.Error("read directory", "dir", *dir, "error", err)
		os.Exit(1)
	}

	builder := batch.NewReportBuilder()
	queue := batch.NewQueue(a.Processor, builder, logger,
		batch.WithWorkers(*workers),
		batch.WithUserRef(*userRef),
		batch.WithMaxFileBytes(int64(cfg.Server.MaxUploadMB)<<20),
	)

	queued := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if constants.MapExtToFormat(filepath.Ext(e.Name())) == "" {
			logger.Warn("batch.skipped", "file", e.Name(), "reason", "unsupported extension")
			continue
		}
		if err := queue.Enqueue(ctx, batch.Job{
			Path:            filepath.Join(*dir, e.Name()),
			TemplateVersion: *version,
		}); err != nil {
			logger.Error("batch.enqueue.failed", "file", e.Name(), "error", err)
		} else {
			queued++
		}
	}

	drainCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()
	queue.Shutdown(drainCtx)

	failed := 0
	for _, o := range builder.Outcomes() {
		if o.Err != nil {
			failed++
		}
	}

	data, err := builder.XLSX()
	if err != nil {
		logger.Error("render review workbook", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		logger.Error("write review workbook", "path", *out, "error", err)
		os.Exit(1)
	}
	logger.Info("batch.report.written", "path", *out, "forms", queued, "failed", failed)

	if *jsonlOut != "" {
		f, err := os.Create(*jsonlOut)
		if err != nil {
			logger.Error("create jsonl output", "path", *jsonlOut, "error", err)
			os.Exit(1)
		}
		if err := builder.WriteJSONL(f); err != nil {
			_ = f.Close()
			logger.Error("write jsonl output", "path", *jsonlOut, "error", err)
			os.Exit(1)
		}
		if err := f.Close(); err != nil {
			logger.Error("close jsonl output", "path", *jsonlOut, "error", err)
			os.Exit(1)
		}
		logger.Info("batch.jsonl.written", "path", *jsonlOut)
	}

	if failed > 0 {
		os.Exit(1)
	}
}
