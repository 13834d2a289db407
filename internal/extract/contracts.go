package extract

import (
	"context"
	"image"

	"github.com/duncanmillerza/hadada-intake/internal/ocr"
)

// Recognizer turns one field crop into text plus confidence. The production
// implementation shells out to tesseract; tests substitute a fake.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image, opts ocr.RecognizeOptions) (ocr.Recognition, error)
}
