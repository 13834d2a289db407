package preprocess

import (
	"image"
	"math"
	"sort"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

const (
	// Skew search space: ±45° around horizontal, 1° resolution. A document
	// rotated further than that reads as portrait/landscape confusion, which
	// deskew must not try to fix.
	skewRangeDeg   = 45
	rhoResolution  = 2.0
	samplingStride = 2
	// Peaks below this fraction of the strongest line are noise, not lines.
	peakFraction = 0.5
)

// detectSkewAngle estimates the dominant text/table-line angle of a binarized
// page via a Hough transform restricted to near-horizontal directions.
// It returns the median angle (degrees) of the detected lines. The median,
// not the mean, so a few outlier edges from noise or table borders cannot
// drag the estimate. ok is false when too few line votes exist.
func detectSkewAngle(bin *image.Gray) (angle float64, ok bool) {
	w, h := bin.Bounds().Dx(), bin.Bounds().Dy()
	diag := math.Hypot(float64(w), float64(h))

	// Theta spans 90°±45°: the normal of a near-horizontal line points
	// near-vertical (theta≈90°). Near-vertical lines fall outside the range
	// and never vote.
	const thetaCount = 2*skewRangeDeg + 1
	nRho := int(2*diag/rhoResolution) + 2

	sinT := make([]float64, thetaCount)
	cosT := make([]float64, thetaCount)
	for i := 0; i < thetaCount; i++ {
		rad := float64(90-skewRangeDeg+i) * math.Pi / 180
		sinT[i] = math.Sin(rad)
		cosT[i] = math.Cos(rad)
	}

	acc := make([]int32, thetaCount*nRho)
	var votes int
	for y := 0; y < h; y += samplingStride {
		row := y * bin.Stride
		for x := 0; x < w; x += samplingStride {
			if bin.Pix[row+x] != 0 {
				continue
			}
			votes++
			fx, fy := float64(x), float64(y)
			for i := 0; i < thetaCount; i++ {
				rho := fx*cosT[i] + fy*sinT[i]
				ri := int((rho + diag) / rhoResolution)
				acc[i*nRho+ri]++
			}
		}
	}
	if votes == 0 {
		return 0, false
	}

	var max int32
	for _, v := range acc {
		if v > max {
			max = v
		}
	}
	// A real line accumulates at least a page-width worth of samples.
	minVotes := int32(float64(w) / float64(samplingStride) / 8)
	if minVotes < 16 {
		minVotes = 16
	}
	if max < minVotes {
		return 0, false
	}

	cutoff := int32(float64(max) * peakFraction)
	if cutoff < minVotes {
		cutoff = minVotes
	}
	var angles []float64
	for i := 0; i < thetaCount; i++ {
		base := i * nRho
		lineAngle := float64(i - skewRangeDeg) // theta-90: slope angle of the line itself
		for r := 0; r < nRho; r++ {
			if acc[base+r] >= cutoff {
				angles = append(angles, lineAngle)
			}
		}
	}
	if len(angles) == 0 {
		return 0, false
	}

	sort.Float64s(angles)
	mid := len(angles) / 2
	if len(angles)%2 == 0 {
		return (angles[mid-1] + angles[mid]) / 2, true
	}
	return angles[mid], true
}

// rotate returns src rotated by deg degrees about its center, resampled with
// a bilinear kernel. The canvas keeps its size; uncovered corners fill white
// (paper).
func rotate(src *image.Gray, deg float64) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for i := range dst.Pix {
		dst.Pix[i] = 255
	}

	rad := deg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	cx, cy := float64(w)/2, float64(h)/2

	// Affine map src→dst rotating about the center.
	m := f64.Aff3{
		cos, -sin, cx - cos*cx + sin*cy,
		sin, cos, cy - sin*cx - cos*cy,
	}
	xdraw.BiLinear.Transform(dst, m, src, src.Bounds(), xdraw.Src, nil)
	return dst
}
