package pipeline

import (
	"context"
	"image"

	"github.com/duncanmillerza/hadada-intake/internal/audit"
	"github.com/duncanmillerza/hadada-intake/internal/extract"
	"github.com/duncanmillerza/hadada-intake/internal/preprocess"
	"github.com/duncanmillerza/hadada-intake/internal/remote"
	"github.com/duncanmillerza/hadada-intake/internal/template"
)

// TemplateLoader resolves a versioned form template.
type TemplateLoader interface {
	Load(ctx context.Context, version string) (*template.FormTemplate, error)
}

// FormPreprocessor normalizes a captured form image into the canonical
// binarized page that field bounding boxes are defined against.
type FormPreprocessor interface {
	Run(src image.Image) (*preprocess.Result, error)
}

// FieldExtractor reads every template field from the canonical image.
type FieldExtractor interface {
	Extract(ctx context.Context, img *image.Gray, tpl *template.FormTemplate) (*extract.Result, error)
}

// RemoteAnalyzer is the cloud document-analysis fallback. Implementations
// degrade to (nil, nil) when disabled or unreachable; a nil map simply
// leaves the local readings untouched.
type RemoteAnalyzer interface {
	Analyze(ctx context.Context, imageData []byte, fieldNames []string) (map[string]remote.FieldGuess, error)
}

// AuditTrail records one event per extraction attempt.
type AuditTrail interface {
	LogExtraction(ctx context.Context, e audit.Entry) (*audit.Event, error)
}
