package preprocess

import (
	"fmt"
	"image"
	"math"
)

// pageQuad holds the detected sheet corners ordered top-left, top-right,
// bottom-right, bottom-left.
type pageQuad [4]image.Point

// Accept the component as a page only when it covers a plausible share of
// the frame. Below the floor it is a sticker or a hand; above the ceiling
// the photo is already a flat scan and warping would only resample noise.
const (
	minPageAreaFrac = 0.25
	maxPageAreaFrac = 0.95
)

// findPageQuad locates the sheet of paper inside a photographed frame.
// The page shows up as the largest bright connected region of the smoothed
// grayscale; its extreme corners define the quadrilateral to rectify.
func findPageQuad(smooth *image.Gray) (pageQuad, bool) {
	var q pageQuad
	w, h := smooth.Bounds().Dx(), smooth.Bounds().Dy()
	total := w * h
	if total == 0 {
		return q, false
	}

	// otsuThreshold returns the last value of the dark class, so the page
	// test is strictly greater.
	thr := otsuThreshold(smooth)
	bright := make([]bool, total)
	for y := 0; y < h; y++ {
		row := y * smooth.Stride
		off := y * w
		for x := 0; x < w; x++ {
			bright[off+x] = smooth.Pix[row+x] > thr
		}
	}

	comp, area := largestBrightComponent(bright, w, h)
	frac := float64(area) / float64(total)
	if frac < minPageAreaFrac || frac > maxPageAreaFrac {
		return q, false
	}

	// Corner selection by coordinate sums and differences: top-left
	// minimizes x+y, bottom-right maximizes it, top-right maximizes x-y,
	// bottom-left minimizes x-y.
	minSum, maxSum := math.MaxInt32, math.MinInt32
	minDiff, maxDiff := math.MaxInt32, math.MinInt32
	for y := 0; y < h; y++ {
		off := y * w
		for x := 0; x < w; x++ {
			if !comp[off+x] {
				continue
			}
			sum, diff := x+y, x-y
			if sum < minSum {
				minSum = sum
				q[0] = image.Pt(x, y)
			}
			if diff > maxDiff {
				maxDiff = diff
				q[1] = image.Pt(x, y)
			}
			if sum > maxSum {
				maxSum = sum
				q[2] = image.Pt(x, y)
			}
			if diff < minDiff {
				minDiff = diff
				q[3] = image.Pt(x, y)
			}
		}
	}

	// Degenerate quads (corners collapsing onto each other) mean the bright
	// region is a blob, not a sheet.
	minSide := float64(minInputSide) / 2
	if dist(q[0], q[1]) < minSide || dist(q[3], q[2]) < minSide ||
		dist(q[0], q[3]) < minSide || dist(q[1], q[2]) < minSide {
		return q, false
	}
	return q, true
}

// largestBrightComponent labels 4-connected bright regions and returns a
// mask of the biggest one along with its pixel count.
func largestBrightComponent(bright []bool, w, h int) ([]bool, int) {
	visited := make([]bool, len(bright))
	best := []bool(nil)
	bestArea := 0
	queue := make([]int, 0, 1024)

	for start := range bright {
		if !bright[start] || visited[start] {
			continue
		}
		var cur []int
		queue = queue[:0]
		queue = append(queue, start)
		visited[start] = true
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			cur = append(cur, idx)
			x, y := idx%w, idx/w
			if x > 0 && bright[idx-1] && !visited[idx-1] {
				visited[idx-1] = true
				queue = append(queue, idx-1)
			}
			if x < w-1 && bright[idx+1] && !visited[idx+1] {
				visited[idx+1] = true
				queue = append(queue, idx+1)
			}
			if y > 0 && bright[idx-w] && !visited[idx-w] {
				visited[idx-w] = true
				queue = append(queue, idx-w)
			}
			if y < h-1 && bright[idx+w] && !visited[idx+w] {
				visited[idx+w] = true
				queue = append(queue, idx+w)
			}
		}
		if len(cur) > bestArea {
			bestArea = len(cur)
			best = make([]bool, len(bright))
			for _, idx := range cur {
				best[idx] = true
			}
		}
	}
	return best, bestArea
}

func dist(a, b image.Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}

// warpPerspective maps the quadrilateral q in src onto an axis-aligned
// rectangle whose width is the longer of the two horizontal edges and whose
// height is the longer of the two vertical edges, so no content is squeezed.
func warpPerspective(src *image.Gray, q pageQuad) (*image.Gray, error) {
	outW := int(math.Round(math.Max(dist(q[0], q[1]), dist(q[3], q[2]))))
	outH := int(math.Round(math.Max(dist(q[0], q[3]), dist(q[1], q[2]))))
	if outW < minInputSide || outH < minInputSide {
		return nil, fmt.Errorf("rectified size %dx%d too small", outW, outH)
	}

	// Homography from destination rectangle corners to source quad corners,
	// so each destination pixel pulls from its source location.
	dstPts := [4][2]float64{
		{0, 0},
		{float64(outW - 1), 0},
		{float64(outW - 1), float64(outH - 1)},
		{0, float64(outH - 1)},
	}
	srcPts := [4][2]float64{
		{float64(q[0].X), float64(q[0].Y)},
		{float64(q[1].X), float64(q[1].Y)},
		{float64(q[2].X), float64(q[2].Y)},
		{float64(q[3].X), float64(q[3].Y)},
	}
	hm, err := solveHomography(dstPts, srcPts)
	if err != nil {
		return nil, err
	}

	dst := image.NewGray(image.Rect(0, 0, outW, outH))
	for y := 0; y < outH; y++ {
		fy := float64(y)
		row := y * dst.Stride
		for x := 0; x < outW; x++ {
			fx := float64(x)
			den := hm[6]*fx + hm[7]*fy + 1
			sx := (hm[0]*fx + hm[1]*fy + hm[2]) / den
			sy := (hm[3]*fx + hm[4]*fy + hm[5]) / den
			dst.Pix[row+x] = sampleBilinear(src, sx, sy)
		}
	}
	return dst, nil
}

// solveHomography computes the 8 projective coefficients (h33 fixed to 1)
// mapping each from[i] to to[i], by Gaussian elimination with partial
// pivoting on the standard direct-linear-transform system.
func solveHomography(from, to [4][2]float64) ([8]float64, error) {
	var m [8][9]float64
	for i := 0; i < 4; i++ {
		x, y := from[i][0], from[i][1]
		u, v := to[i][0], to[i][1]
		m[2*i] = [9]float64{x, y, 1, 0, 0, 0, -u * x, -u * y, u}
		m[2*i+1] = [9]float64{0, 0, 0, x, y, 1, -v * x, -v * y, v}
	}

	var hm [8]float64
	for col := 0; col < 8; col++ {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return hm, fmt.Errorf("degenerate corner configuration")
		}
		m[col], m[pivot] = m[pivot], m[col]
		for r := col + 1; r < 8; r++ {
			f := m[r][col] / m[col][col]
			if f == 0 {
				continue
			}
			for c := col; c < 9; c++ {
				m[r][c] -= f * m[col][c]
			}
		}
	}
	for col := 7; col >= 0; col-- {
		v := m[col][8]
		for c := col + 1; c < 8; c++ {
			v -= m[col][c] * hm[c]
		}
		hm[col] = v / m[col][col]
	}
	return hm, nil
}

// sampleBilinear reads src at a fractional coordinate, treating everything
// outside the frame as paper white.
func sampleBilinear(src *image.Gray, x, y float64) uint8 {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if x < 0 || y < 0 || x > float64(w-1) || y > float64(h-1) {
		return 255
	}
	x0, y0 := int(x), int(y)
	x1, y1 := x0+1, y0+1
	if x1 > w-1 {
		x1 = w - 1
	}
	if y1 > h-1 {
		y1 = h - 1
	}
	fx, fy := x-float64(x0), y-float64(y0)

	p00 := float64(src.Pix[y0*src.Stride+x0])
	p10 := float64(src.Pix[y0*src.Stride+x1])
	p01 := float64(src.Pix[y1*src.Stride+x0])
	p11 := float64(src.Pix[y1*src.Stride+x1])

	top := p00 + (p10-p00)*fx
	bot := p01 + (p11-p01)*fx
	return uint8(top + (bot-top)*fy + 0.5)
}
