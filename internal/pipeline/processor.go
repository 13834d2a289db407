// Package pipeline coordinates one extraction run end to end: decode,
// template lookup, preprocessing, per-field recognition, the
// confidence-gated remote fallback, validation, and the audit trail.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"
	"time"

	_ "golang.org/x/image/tiff"

	"github.com/duncanmillerza/hadada-intake/constants"
	"github.com/duncanmillerza/hadada-intake/internal/audit"
	"github.com/duncanmillerza/hadada-intake/internal/common"
	"github.com/duncanmillerza/hadada-intake/internal/extract"
	"github.com/duncanmillerza/hadada-intake/internal/remote"
	"github.com/duncanmillerza/hadada-intake/internal/validate"
)

// Config holds the pipeline tunables.
type Config struct {
	// FallbackThreshold is the overall-confidence floor below which the
	// remote pass runs. A template may override it per revision. Default 60.
	FallbackThreshold float64
	// DefaultTemplateVersion is used when a request names no version.
	DefaultTemplateVersion string
}

// Request is one extraction attempt.
type Request struct {
	ImageData       []byte
	TemplateVersion string
	// UserIdentifier is the operator reference for the audit trail. It is
	// one-way hashed before storage and never logged raw.
	UserIdentifier string
}

// Deps are the stage implementations the processor coordinates.
type Deps struct {
	Templates TemplateLoader
	Prep      FormPreprocessor
	Extractor FieldExtractor
	Remote    RemoteAnalyzer
	Trail     AuditTrail
}

// Processor runs the stages in order and owns the merge and gate decisions
// between them.
type Processor struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

func NewProcessor(cfg Config, deps Deps, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FallbackThreshold <= 0 {
		cfg.FallbackThreshold = 60
	}
	return &Processor{cfg: cfg, deps: deps, logger: logger}
}

// Process runs one extraction attempt. The audit trail records the attempt
// whether it succeeds or not; an audit failure is logged but never withholds
// the response.
func (p *Processor) Process(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	logger := p.logger
	if rid := common.RequestIDFromContext(ctx); rid != "" {
		logger = logger.With("request_id", rid)
	}
	resp, err := p.run(ctx, req)

	entry := audit.Entry{
		UserIdentifier:  req.UserIdentifier,
		TemplateVersion: req.TemplateVersion,
		Success:         err == nil,
	}
	if resp != nil {
		entry.TemplateVersion = resp.TemplateVersion
		entry.OverallConfidence = resp.Data.OverallConfidence
		entry.FieldCount = len(resp.Data.Fields)
		entry.RemoteUsed = resp.remoteUsed
	}
	if _, aerr := p.deps.Trail.LogExtraction(ctx, entry); aerr != nil {
		logger.Error("pipeline.audit.failed", "error", aerr)
	}

	if err != nil {
		logger.Error("pipeline.failed",
			"template_version", req.TemplateVersion,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}
	logger.Info("pipeline.ok",
		"template_version", resp.TemplateVersion,
		"fields", len(resp.Data.Fields),
		"overall_confidence", resp.Data.OverallConfidence,
		"remote_used", resp.remoteUsed,
		"warnings", len(resp.Data.Warnings),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (p *Processor) run(ctx context.Context, req Request) (*Response, error) {
	version := req.TemplateVersion
	if version == "" {
		version = p.cfg.DefaultTemplateVersion
	}

	if len(req.ImageData) == 0 {
		return nil, fmt.Errorf("%w: empty image payload", common.ErrInvalidInput)
	}
	format := constants.SniffImageFormat(req.ImageData)
	if format == "" {
		return nil, fmt.Errorf("%w: payload is not JPEG, PNG, or TIFF", common.ErrUnsupportedFormat)
	}

	img, _, err := image.Decode(bytes.NewReader(req.ImageData))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", common.ErrInvalidInput, format, err)
	}

	tpl, err := p.deps.Templates.Load(ctx, version)
	if err != nil {
		return nil, err
	}

	pre, err := p.deps.Prep.Run(img)
	if err != nil {
		return nil, fmt.Errorf("%w: preprocess: %v", common.ErrInvalidInput, err)
	}

	res, err := p.deps.Extractor.Extract(ctx, pre.Image, tpl)
	if err != nil {
		return nil, common.WrapError(err, "local extraction")
	}

	threshold := p.cfg.FallbackThreshold
	if tpl.FallbackThreshold > 0 {
		threshold = tpl.FallbackThreshold
	}

	readings := res.Fields
	remoteUsed := false
	if res.Overall < threshold {
		p.logger.Info("pipeline.fallback.triggered",
			"overall_confidence", res.Overall,
			"threshold", threshold,
		)
		guesses, rerr := p.deps.Remote.Analyze(ctx, req.ImageData, tpl.FieldNames())
		if rerr != nil {
			p.logger.Warn("pipeline.fallback.failed", "error", rerr)
		}
		if len(guesses) > 0 {
			remoteUsed = true
			readings = mergeReadings(readings, guesses)
		}
	}

	data := Data{
		Fields:            make([]FieldValue, 0, len(readings)),
		OverallConfidence: overallConfidence(readings),
		Warnings:          append([]string(nil), pre.Warnings...),
	}
	for _, r := range readings {
		spec, ok := tpl.Field(r.Name)
		if !ok {
			return nil, fmt.Errorf("reading for unknown field %q", r.Name)
		}
		v := validate.Field(spec.Validator(), r.Text, validate.Options{
			DateFormatHint: spec.DateFormatHint,
			MinLength:      spec.MinLength,
			MaxLength:      spec.MaxLength,
		})
		fv := FieldValue{
			Name:       r.Name,
			Value:      r.Text,
			RawValue:   r.Text,
			Confidence: r.Confidence,
			Valid:      v.Valid,
			Source:     r.Source,
		}
		if v.Valid {
			norm := v.Normalized
			fv.Value = norm
			fv.NormalizedValue = &norm
		} else {
			data.Warnings = append(data.Warnings, fmt.Sprintf("%s: %s", r.Name, v.Message))
		}
		data.Fields = append(data.Fields, fv)
	}

	return &Response{
		Success:         true,
		Data:            data,
		TemplateVersion: tpl.Version,
		remoteUsed:      remoteUsed,
	}, nil
}

// mergeReadings keeps, per field, whichever source read it with higher
// confidence. Ties keep the local reading; guesses for fields the template
// does not declare were already dropped during label mapping.
func mergeReadings(local []extract.FieldReading, guesses map[string]remote.FieldGuess) []extract.FieldReading {
	merged := make([]extract.FieldReading, len(local))
	copy(merged, local)
	for i := range merged {
		g, ok := guesses[merged[i].Name]
		if !ok || g.Confidence <= merged[i].Confidence {
			continue
		}
		merged[i].Text = g.Value
		merged[i].Confidence = g.Confidence
		merged[i].Words = len(strings.Fields(g.Value))
		merged[i].Source = constants.SourceRemote
	}
	return merged
}

// overallConfidence is the unweighted mean of the per-field confidences,
// recomputed after the merge so the response reflects the retained values.
func overallConfidence(fields []extract.FieldReading) float64 {
	if len(fields) == 0 {
		return 0
	}
	var sum float64
	for _, f := range fields {
		sum += f.Confidence
	}
	return sum / float64(len(fields))
}
