package preprocess

import (
	"image"
	"image/draw"
	"math"
)

// grayscale converts any image to an 8-bit single-channel copy anchored at
// the origin.
func grayscale(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// bilateral applies edge-preserving smoothing: pixels are averaged with
// neighbors weighted by both spatial distance and intensity difference, so
// flat regions denoise while character strokes keep their edges.
func bilateral(src *image.Gray, radius int, sigmaSpace, sigmaRange float64) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))

	size := 2*radius + 1
	spatial := make([]float64, size*size)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			d2 := float64(dx*dx + dy*dy)
			spatial[(dy+radius)*size+(dx+radius)] = math.Exp(-d2 / (2 * sigmaSpace * sigmaSpace))
		}
	}
	var rangeLUT [256]float64
	for d := 0; d < 256; d++ {
		rangeLUT[d] = math.Exp(-float64(d*d) / (2 * sigmaRange * sigmaRange))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			center := src.Pix[y*src.Stride+x]
			var sum, wsum float64
			for dy := -radius; dy <= radius; dy++ {
				ny := clampInt(y+dy, 0, h-1)
				for dx := -radius; dx <= radius; dx++ {
					nx := clampInt(x+dx, 0, w-1)
					v := src.Pix[ny*src.Stride+nx]
					diff := int(v) - int(center)
					if diff < 0 {
						diff = -diff
					}
					wt := spatial[(dy+radius)*size+(dx+radius)] * rangeLUT[diff]
					sum += wt * float64(v)
					wsum += wt
				}
			}
			dst.Pix[y*dst.Stride+x] = uint8(sum/wsum + 0.5)
		}
	}
	return dst
}

// adaptiveThreshold binarizes against the local window mean minus a bias.
// A single global threshold fails on unevenly lit captures; the local mean
// tracks illumination across the page. Output: ink 0, paper 255.
func adaptiveThreshold(src *image.Gray, window, bias int) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	radius := window / 2

	// Summed-area table; (w+1)x(h+1) with a zero border row/column.
	integral := make([]uint64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var rowSum uint64
		for x := 0; x < w; x++ {
			rowSum += uint64(src.Pix[y*src.Stride+x])
			integral[(y+1)*(w+1)+(x+1)] = integral[y*(w+1)+(x+1)] + rowSum
		}
	}

	for y := 0; y < h; y++ {
		y0 := clampInt(y-radius, 0, h-1)
		y1 := clampInt(y+radius, 0, h-1)
		for x := 0; x < w; x++ {
			x0 := clampInt(x-radius, 0, w-1)
			x1 := clampInt(x+radius, 0, w-1)
			area := uint64((y1 - y0 + 1) * (x1 - x0 + 1))
			sum := integral[(y1+1)*(w+1)+(x1+1)] -
				integral[y0*(w+1)+(x1+1)] -
				integral[(y1+1)*(w+1)+x0] +
				integral[y0*(w+1)+x0]

			v := uint64(src.Pix[y*src.Stride+x]) * area
			if v+uint64(bias)*area < sum {
				dst.Pix[y*dst.Stride+x] = 0
			} else {
				dst.Pix[y*dst.Stride+x] = 255
			}
		}
	}
	return dst
}

// otsuThreshold picks the global threshold maximizing between-class variance.
// Used for separating the bright page from the backdrop, where a global split
// is exactly what's wanted.
func otsuThreshold(src *image.Gray) uint8 {
	var hist [256]int
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hist[src.Pix[y*src.Stride+x]]++
		}
	}
	total := w * h

	var sumAll float64
	for i, n := range hist {
		sumAll += float64(i) * float64(n)
	}

	var sumB, wB float64
	var best float64
	var threshold uint8
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = uint8(t)
		}
	}
	return threshold
}

// closeDark applies a morphological closing to the dark (ink) regions:
// dilation then erosion with a square kernel, reconnecting character strokes
// broken by thresholding noise. Dark is low-valued, so dilation of ink is a
// min filter and erosion a max filter.
func closeDark(src *image.Gray, radius int) *image.Gray {
	return maxFilter(minFilter(src, radius), radius)
}

func minFilter(src *image.Gray, radius int) *image.Gray {
	horiz := runFilter(src, radius, true, func(a, b uint8) bool { return a < b })
	return runFilter(horiz, radius, false, func(a, b uint8) bool { return a < b })
}

func maxFilter(src *image.Gray, radius int) *image.Gray {
	horiz := runFilter(src, radius, true, func(a, b uint8) bool { return a > b })
	return runFilter(horiz, radius, false, func(a, b uint8) bool { return a > b })
}

// runFilter is a separable 1-D extremum pass; pick selects the kept value.
func runFilter(src *image.Gray, radius int, horizontal bool, pick func(a, b uint8) bool) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			best := src.Pix[y*src.Stride+x]
			for d := -radius; d <= radius; d++ {
				var nx, ny int
				if horizontal {
					nx, ny = clampInt(x+d, 0, w-1), y
				} else {
					nx, ny = x, clampInt(y+d, 0, h-1)
				}
				v := src.Pix[ny*src.Stride+nx]
				if pick(v, best) {
					best = v
				}
			}
			dst.Pix[y*dst.Stride+x] = best
		}
	}
	return dst
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
