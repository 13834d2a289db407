package preprocess

import (
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"
)

// Config tunes the normalization stages. Zero values get sensible defaults
// from NewPreprocessor.
type Config struct {
	BilateralRadius int     // neighborhood radius for edge-preserving smoothing
	SigmaSpace      float64 // spatial falloff for the bilateral kernel
	SigmaRange      float64 // intensity falloff for the bilateral kernel
	ThresholdWindow int     // odd window size for local-adaptive binarization
	ThresholdBias   int     // subtracted from the local mean before comparing
	MinDeskewDeg    float64 // skew magnitudes below this are treated as noise
	ClosingRadius   int     // morphological closing radius for stroke repair
}

// Result carries the canonical image plus what the stages decided, so the
// pipeline can log how much correction a capture needed.
type Result struct {
	Image              *image.Gray
	SkewDeg            float64
	DeskewApplied      bool
	PerspectiveApplied bool
	Warnings           []string
}

// Preprocessor normalizes an arbitrary photo/scan of a form into a deskewed,
// perspective-corrected, binarized image so template bounding boxes land on
// the printed content they describe.
type Preprocessor struct {
	cfg    Config
	logger *slog.Logger
}

func NewPreprocessor(cfg Config, logger *slog.Logger) *Preprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BilateralRadius <= 0 {
		cfg.BilateralRadius = 2
	}
	if cfg.SigmaSpace <= 0 {
		cfg.SigmaSpace = 2.0
	}
	if cfg.SigmaRange <= 0 {
		cfg.SigmaRange = 40.0
	}
	if cfg.ThresholdWindow <= 0 {
		cfg.ThresholdWindow = 31
	}
	if cfg.ThresholdWindow%2 == 0 {
		cfg.ThresholdWindow++
	}
	if cfg.ThresholdBias == 0 {
		cfg.ThresholdBias = 10
	}
	if cfg.MinDeskewDeg <= 0 {
		cfg.MinDeskewDeg = 0.5
	}
	if cfg.ClosingRadius <= 0 {
		cfg.ClosingRadius = 1
	}
	return &Preprocessor{cfg: cfg, logger: logger}
}

// Run executes the full normalization chain:
//
//  1. single-channel conversion plus bilateral smoothing (adaptive
//     thresholding is noise-sensitive and naive smoothing destroys strokes)
//  2. local-adaptive binarization (photographed forms are unevenly lit)
//  3. deskew by the median Hough line angle within ±45° of horizontal
//  4. perspective correction via the largest page quadrilateral, skipped
//     gracefully when no usable boundary is found
//  5. morphological closing to reconnect strokes broken by thresholding
func (p *Preprocessor) Run(src image.Image) (*Result, error) {
	if src == nil {
		return nil, fmt.Errorf("preprocess: nil image")
	}
	b := src.Bounds()
	if b.Dx() < minInputSide || b.Dy() < minInputSide {
		return nil, fmt.Errorf("preprocess: image %dx%d below minimum %dpx side", b.Dx(), b.Dy(), minInputSide)
	}

	start := time.Now()
	res := &Result{}

	gray := grayscale(src)
	smooth := bilateral(gray, p.cfg.BilateralRadius, p.cfg.SigmaSpace, p.cfg.SigmaRange)
	bin := adaptiveThreshold(smooth, p.cfg.ThresholdWindow, p.cfg.ThresholdBias)

	if angle, ok := detectSkewAngle(bin); ok {
		res.SkewDeg = angle
		if math.Abs(angle) >= p.cfg.MinDeskewDeg {
			bin = rotate(bin, -angle)
			smooth = rotate(smooth, -angle)
			res.DeskewApplied = true
			p.logger.Debug("preprocess.deskew.ok", "angle_deg", angle)
		}
	} else {
		res.Warnings = append(res.Warnings, "no dominant line direction; deskew skipped")
	}

	if quad, ok := findPageQuad(smooth); ok {
		warped, err := warpPerspective(bin, quad)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("perspective transform failed: %v", err))
			p.logger.Warn("preprocess.perspective.failed", "error", err)
		} else {
			bin = warped
			res.PerspectiveApplied = true
			p.logger.Debug("preprocess.perspective.ok",
				"out_width", bin.Bounds().Dx(), "out_height", bin.Bounds().Dy())
		}
	} else {
		// Many capture devices already produce near-rectilinear images;
		// a missing page boundary is degradation, not failure.
		res.Warnings = append(res.Warnings, "no page boundary detected; perspective correction skipped")
	}

	res.Image = closeDark(bin, p.cfg.ClosingRadius)

	p.logger.Info("preprocess.ok",
		"width", res.Image.Bounds().Dx(),
		"height", res.Image.Bounds().Dy(),
		"skew_deg", res.SkewDeg,
		"deskewed", res.DeskewApplied,
		"perspective", res.PerspectiveApplied,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// minInputSide rejects thumbnails that cannot carry legible field content.
const minInputSide = 64
