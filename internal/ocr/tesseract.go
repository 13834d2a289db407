package ocr

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/duncanmillerza/hadada-intake/constants"
)

// RecognizeOptions narrows the engine to the content a single field crop can
// legally contain. Whitelisting cuts whole classes of misreads (an O in an ID
// number, an l in a phone number) before they happen.
type RecognizeOptions struct {
	Layout    constants.LayoutMode
	Whitelist string // permitted characters; empty means unrestricted
}

// Recognition is the raw engine readout for one field crop. Confidence is
// the mean word confidence on the engine's 0..100 scale; a crop with no
// legible words comes back as the zero value, not an error.
type Recognition struct {
	Text       string
	Confidence float64
	Words      int
}

type Config struct {
	Tesseract string // binary name or absolute path; if empty -> "tesseract"
	Language  string // default "eng"

	TessdataDir string
	OEM         int // 1 = LSTM; leave 0 to use the engine default

	WorkDir string // scratch dir for crop files; default os.TempDir()
}

// Engine shells out to tesseract per field crop. Crops are a few hundred
// pixels, so process startup is noise next to recognition time, and the
// exec boundary keeps the binary swappable and the tests hermetic.
type Engine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Engine{cfg: cfg, runner: execRunner{}, logger: logger}
}

// Tesseract page segmentation modes: 7 treats the crop as a single text
// line, 6 as a uniform block.
const (
	psmSingleLine = 7
	psmBlock      = 6
)

func psmFor(layout constants.LayoutMode) int {
	if layout == constants.LayoutBlock {
		return psmBlock
	}
	return psmSingleLine
}

// Recognize OCRs one field crop and returns its text with the mean word
// confidence.
func (e *Engine) Recognize(ctx context.Context, img image.Image, opts RecognizeOptions) (Recognition, error) {
	path, cleanup, err := e.writeCrop(img)
	if err != nil {
		return Recognition{}, err
	}
	defer cleanup()

	args := []string{path, "stdout", "-l", e.cfg.Language, "--psm", strconv.Itoa(psmFor(opts.Layout))}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	if opts.Whitelist != "" {
		args = append(args, "-c", "tessedit_char_whitelist="+opts.Whitelist)
	}
	// TSV output carries per-word confidences alongside the text
	args = append(args, "tsv")

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return Recognition{}, fmt.Errorf("tesseract: %w: %s", err, truncate(string(errb), 512))
	}

	rec := parseTSV(string(out))
	if opts.Layout == constants.LayoutBlock {
		rec.Text = Normalize(rec.Text)
	} else {
		rec.Text = CollapseToLine(rec.Text)
	}

	e.logger.Debug("ocr.recognize.ok",
		"words", rec.Words,
		"confidence", rec.Confidence,
		"psm", psmFor(opts.Layout),
	)
	return rec, nil
}

// writeCrop stages the crop as a PNG for the tesseract CLI. The caller must
// invoke cleanup even on error paths after a nil-error return.
func (e *Engine) writeCrop(img image.Image) (string, func(), error) {
	f, err := os.CreateTemp(e.cfg.WorkDir, "field-*.png")
	if err != nil {
		return "", nil, fmt.Errorf("crop temp file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("encode crop: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("close crop: %w", err)
	}
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

// parseTSV folds tesseract's TSV rows into line-broken text plus the mean
// word confidence. Only level-5 rows are words; structural rows carry conf
// -1 and are skipped.
func parseTSV(out string) Recognition {
	var (
		sb      strings.Builder
		lineKey string
		sum     float64
		words   int
	)
	for i, ln := range strings.Split(out, "\n") {
		if i == 0 || len(ln) == 0 {
			continue
		} // skip header
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		} // defensive
		if cols[0] != "5" {
			continue
		}
		confStr := cols[10]
		if confStr == "" || confStr == "-1" {
			continue
		}
		conf, err := strconv.ParseFloat(confStr, 64)
		if err != nil {
			continue
		}
		text := strings.TrimSpace(strings.Join(cols[11:], " "))
		if text == "" {
			continue
		}

		key := cols[2] + ":" + cols[3] + ":" + cols[4] // block:par:line
		if words > 0 {
			if key == lineKey {
				sb.WriteByte(' ')
			} else {
				sb.WriteByte('\n')
			}
		}
		lineKey = key
		sb.WriteString(text)
		sum += conf
		words++
	}
	if words == 0 {
		return Recognition{}
	}
	return Recognition{
		Text:       sb.String(),
		Confidence: sum / float64(words),
		Words:      words,
	}
}
