package extract

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/duncanmillerza/hadada-intake/constants"
	"github.com/duncanmillerza/hadada-intake/internal/ocr"
	"github.com/duncanmillerza/hadada-intake/internal/template"
)

type Config struct {
	Parallelism int // concurrent field recognitions; default 4
}

// FieldReading is one field's raw engine readout before validation.
type FieldReading struct {
	Name       string
	Text       string
	Confidence float64 // 0..100
	Words      int
	Source     constants.Source
}

// Result aggregates the per-field readings in template declaration order.
// Overall is the unweighted mean of the field confidences, so one confident
// field cannot mask a page of garbage.
type Result struct {
	Fields  []FieldReading
	Overall float64
}

// Engine crops each template field out of the canonical page image and
// recognizes the crops concurrently.
type Engine struct {
	rec    Recognizer
	cfg    Config
	logger *slog.Logger
}

func NewEngine(rec Recognizer, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	return &Engine{rec: rec, cfg: cfg, logger: logger}
}

// Extract reads every template field from img. Field crops are scaled from
// template page space to the actual image dimensions, so a preprocessed
// image that was resized during rectification still lines up. A blank field
// reads as empty text at zero confidence; only engine failures return an
// error.
func (e *Engine) Extract(ctx context.Context, img *image.Gray, tpl *template.FormTemplate) (*Result, error) {
	if img == nil {
		return nil, fmt.Errorf("extract: nil image")
	}
	if len(tpl.Fields) == 0 {
		return nil, fmt.Errorf("extract: template %s has no fields", tpl.Version)
	}

	start := time.Now()
	b := img.Bounds()
	sx := float64(b.Dx()) / float64(tpl.PageWidth)
	sy := float64(b.Dy()) / float64(tpl.PageHeight)

	readings := make([]FieldReading, len(tpl.Fields))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for i, f := range tpl.Fields {
		i, f := i, f
		g.Go(func() error {
			reading, err := e.readField(gctx, img, f, sx, sy)
			if err != nil {
				return err
			}
			readings[i] = reading
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var sum float64
	for _, r := range readings {
		sum += r.Confidence
	}
	overall := sum / float64(len(readings))

	e.logger.Info("extract.ok",
		"template_version", tpl.Version,
		"fields", len(readings),
		"overall_confidence", overall,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &Result{Fields: readings, Overall: overall}, nil
}

func (e *Engine) readField(ctx context.Context, img *image.Gray, f template.FieldSpec, sx, sy float64) (FieldReading, error) {
	reading := FieldReading{Name: f.Name, Source: constants.SourceLocal}

	crop := cropField(img, f.Box, sx, sy)
	if crop == nil {
		// Box scaled below a pixel; nothing to read.
		return reading, nil
	}

	rec, err := e.rec.Recognize(ctx, crop, ocr.RecognizeOptions{
		Layout:    f.Layout(),
		Whitelist: f.Whitelist,
	})
	if err != nil {
		return reading, fmt.Errorf("field %s: %w", f.Name, err)
	}

	reading.Text = rec.Text
	reading.Confidence = rec.Confidence
	reading.Words = rec.Words
	e.logger.Debug("extract.field.ok",
		"field", f.Name,
		"confidence", rec.Confidence,
		"words", rec.Words,
	)
	return reading, nil
}

// cropField maps a template-space box onto the image and returns the
// subimage, or nil when the scaled box collapses to nothing.
func cropField(img *image.Gray, box template.BoundingBox, sx, sy float64) *image.Gray {
	r := image.Rect(
		int(math.Round(float64(box.X)*sx)),
		int(math.Round(float64(box.Y)*sy)),
		int(math.Round(float64(box.X+box.Width)*sx)),
		int(math.Round(float64(box.Y+box.Height)*sy)),
	).Intersect(img.Bounds())
	if r.Empty() {
		return nil
	}
	return img.SubImage(r).(*image.Gray)
}
