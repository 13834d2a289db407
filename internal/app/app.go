// Package app wires configuration into a ready extraction pipeline, shared
// by the daemon and the CLIs.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/duncanmillerza/hadada-intake/internal/audit"
	"github.com/duncanmillerza/hadada-intake/internal/common"
	"github.com/duncanmillerza/hadada-intake/internal/extract"
	"github.com/duncanmillerza/hadada-intake/internal/ocr"
	"github.com/duncanmillerza/hadada-intake/internal/pipeline"
	"github.com/duncanmillerza/hadada-intake/internal/preprocess"
	"github.com/duncanmillerza/hadada-intake/internal/remote"
	"github.com/duncanmillerza/hadada-intake/internal/template"
)

// App holds the assembled components. Close releases the audit sink.
type App struct {
	Config    *common.Config
	Logger    *slog.Logger
	Registry  *template.Registry
	Processor *pipeline.Processor
	Audit     audit.Sink
}

func New(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry := template.NewRegistry(cfg.Templates.Dir, logger)

	pre := preprocess.NewPreprocessor(preprocess.Config{}, logger)

	recognizer := ocr.NewEngine(ocr.Config{
		Tesseract:   cfg.OCR.Tesseract,
		Language:    cfg.OCR.Language,
		TessdataDir: cfg.OCR.TessdataDir,
		OEM:         cfg.OCR.OEM,
	}, logger)

	extractor := extract.NewEngine(recognizer, extract.Config{
		Parallelism: cfg.OCR.Parallelism,
	}, logger)

	fallback := remote.NewClient(remote.Config{
		Enabled:  cfg.Remote.Enabled,
		Endpoint: cfg.Remote.Endpoint,
		APIKey:   cfg.Remote.APIKey,
		Timeout:  cfg.Remote.Timeout,
	}, logger)

	sink, err := NewAuditSink(ctx, cfg.Audit, logger)
	if err != nil {
		return nil, fmt.Errorf("audit sink: %w", err)
	}

	processor := pipeline.NewProcessor(
		pipeline.Config{
			FallbackThreshold:      cfg.Pipeline.FallbackThreshold,
			DefaultTemplateVersion: cfg.Templates.DefaultVersion,
		},
		pipeline.Deps{
			Templates: registry,
			Prep:      pre,
			Extractor: extractor,
			Remote:    fallback,
			Trail:     audit.NewLogger(sink, logger),
		},
		logger,
	)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Registry:  registry,
		Processor: processor,
		Audit:     sink,
	}, nil
}

func (a *App) Close() error {
	return a.Audit.Close()
}

// NewAuditSink opens the configured audit store. The daemon's export
// subcommand uses it without assembling the rest of the pipeline.
func NewAuditSink(ctx context.Context, cfg common.AuditConfig, logger *slog.Logger) (audit.Sink, error) {
	switch cfg.Driver {
	case "postgres":
		return audit.NewPostgresSink(ctx, cfg.DSN)
	case "log":
		return audit.NewLogSink(logger), nil
	default:
		return audit.NewSQLiteSink(ctx, cfg.DSN)
	}
}
