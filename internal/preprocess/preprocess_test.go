package preprocess

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeGray(w, h int, fill uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = fill
	}
	return img
}

func fillRect(img *image.Gray, x0, y0, x1, y1 int, v uint8) {
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
}

// drawSlopedLine draws a 2px-thick dark line y = y0 + x*tan(deg).
func drawSlopedLine(img *image.Gray, y0 int, deg float64) {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	slope := math.Tan(deg * math.Pi / 180)
	for x := 0; x < w; x++ {
		y := y0 + int(math.Round(float64(x)*slope))
		if y >= 0 && y < h {
			img.SetGray(x, y, color.Gray{Y: 0})
		}
		if y+1 >= 0 && y+1 < h {
			img.SetGray(x, y+1, color.Gray{Y: 0})
		}
	}
}

func TestNewPreprocessorDefaults(t *testing.T) {
	p := NewPreprocessor(Config{}, nil)
	assert.Equal(t, 2, p.cfg.BilateralRadius)
	assert.Equal(t, 31, p.cfg.ThresholdWindow)
	assert.Equal(t, 10, p.cfg.ThresholdBias)
	assert.InDelta(t, 0.5, p.cfg.MinDeskewDeg, 1e-9)

	p = NewPreprocessor(Config{ThresholdWindow: 20}, nil)
	assert.Equal(t, 21, p.cfg.ThresholdWindow, "even window must be forced odd")
}

func TestRunRejectsBadInput(t *testing.T) {
	p := NewPreprocessor(Config{}, nil)

	_, err := p.Run(nil)
	require.Error(t, err)

	_, err = p.Run(image.NewRGBA(image.Rect(0, 0, 32, 32)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below minimum")
}

func TestRunProducesBinaryImage(t *testing.T) {
	// A synthetic form: white page filling the frame, ruled with dark
	// horizontal lines. No page boundary exists, so perspective correction
	// must skip with a warning rather than fail.
	src := image.NewRGBA(image.Rect(0, 0, 400, 300))
	for y := 0; y < 300; y++ {
		for x := 0; x < 400; x++ {
			src.Set(x, y, color.White)
		}
	}
	for _, y0 := range []int{60, 120, 180, 240} {
		for x := 0; x < 400; x++ {
			src.Set(x, y0, color.Black)
			src.Set(x, y0+1, color.Black)
		}
	}

	p := NewPreprocessor(Config{}, nil)
	res, err := p.Run(src)
	require.NoError(t, err)
	require.NotNil(t, res.Image)

	assert.False(t, res.DeskewApplied, "straight lines must not trigger rotation")
	assert.False(t, res.PerspectiveApplied)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "perspective")

	for i, v := range res.Image.Pix {
		if v != 0 && v != 255 {
			t.Fatalf("pixel %d has non-binary value %d", i, v)
		}
	}
}

func TestDetectSkewAngle(t *testing.T) {
	tests := []struct {
		name string
		deg  float64
	}{
		{name: "level", deg: 0},
		{name: "clockwise 3 degrees", deg: 3},
		{name: "counter clockwise 3 degrees", deg: -3},
		{name: "clockwise 10 degrees", deg: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := makeGray(400, 300, 255)
			for _, y0 := range []int{80, 130, 180, 230} {
				drawSlopedLine(img, y0, tt.deg)
			}
			angle, ok := detectSkewAngle(img)
			require.True(t, ok)
			assert.InDelta(t, tt.deg, angle, 1.5)
		})
	}

	t.Run("blank page has no dominant direction", func(t *testing.T) {
		_, ok := detectSkewAngle(makeGray(400, 300, 255))
		assert.False(t, ok)
	})
}

func TestRotateKeepsCanvas(t *testing.T) {
	img := makeGray(120, 90, 255)
	out := rotate(img, 10)
	assert.Equal(t, img.Bounds(), out.Bounds())
	for i, v := range out.Pix {
		if v != 255 {
			t.Fatalf("pixel %d expected white, got %d", i, v)
		}
	}
}

func TestDeskewRoundtrip(t *testing.T) {
	img := makeGray(400, 300, 255)
	for _, y0 := range []int{80, 140, 200} {
		drawSlopedLine(img, y0, 4)
	}
	angle, ok := detectSkewAngle(img)
	require.True(t, ok)
	require.InDelta(t, 4, angle, 1.5)

	leveled := rotate(img, -angle)
	residual, ok := detectSkewAngle(leveled)
	require.True(t, ok)
	assert.InDelta(t, 0, residual, 1.5)
}

func TestFindPageQuad(t *testing.T) {
	t.Run("bright sheet on dark backdrop", func(t *testing.T) {
		img := makeGray(300, 300, 40)
		fillRect(img, 40, 60, 259, 239, 220)

		q, ok := findPageQuad(img)
		require.True(t, ok)
		assert.Equal(t, image.Pt(40, 60), q[0])
		assert.Equal(t, image.Pt(259, 60), q[1])
		assert.Equal(t, image.Pt(259, 239), q[2])
		assert.Equal(t, image.Pt(40, 239), q[3])
	})

	t.Run("sheet filling the frame is left alone", func(t *testing.T) {
		_, ok := findPageQuad(makeGray(300, 300, 220))
		assert.False(t, ok)
	})

	t.Run("small bright patch is not a sheet", func(t *testing.T) {
		img := makeGray(300, 300, 40)
		fillRect(img, 140, 140, 180, 180, 220)
		_, ok := findPageQuad(img)
		assert.False(t, ok)
	})
}

func TestWarpPerspectiveRectifies(t *testing.T) {
	src := makeGray(300, 300, 255)
	fillRect(src, 40, 60, 259, 239, 0)
	q := pageQuad{
		image.Pt(40, 60),
		image.Pt(259, 60),
		image.Pt(259, 239),
		image.Pt(40, 239),
	}

	out, err := warpPerspective(src, q)
	require.NoError(t, err)
	assert.Equal(t, 219, out.Bounds().Dx())
	assert.Equal(t, 179, out.Bounds().Dy())

	for i, v := range out.Pix {
		if v != 0 {
			t.Fatalf("pixel %d expected ink, got %d", i, v)
		}
	}
}

func TestWarpPerspectiveRejectsTinyQuad(t *testing.T) {
	src := makeGray(300, 300, 255)
	q := pageQuad{
		image.Pt(10, 10), image.Pt(40, 10),
		image.Pt(40, 40), image.Pt(10, 40),
	}
	_, err := warpPerspective(src, q)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too small")
}

func TestSolveHomography(t *testing.T) {
	t.Run("identity", func(t *testing.T) {
		pts := [4][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
		hm, err := solveHomography(pts, pts)
		require.NoError(t, err)
		want := [8]float64{1, 0, 0, 0, 1, 0, 0, 0}
		for i := range want {
			assert.InDelta(t, want[i], hm[i], 1e-9, "coefficient %d", i)
		}
	})

	t.Run("pure scale", func(t *testing.T) {
		from := [4][2]float64{{0, 0}, {99, 0}, {99, 49}, {0, 49}}
		to := [4][2]float64{{0, 0}, {198, 0}, {198, 98}, {0, 98}}
		hm, err := solveHomography(from, to)
		require.NoError(t, err)
		assert.InDelta(t, 2.0, hm[0], 1e-9)
		assert.InDelta(t, 2.0, hm[4], 1e-9)
		assert.InDelta(t, 0.0, hm[6], 1e-12)
		assert.InDelta(t, 0.0, hm[7], 1e-12)
	})

	t.Run("collinear corners fail", func(t *testing.T) {
		from := [4][2]float64{{0, 0}, {1, 1}, {2, 2}, {3, 3}}
		to := [4][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
		_, err := solveHomography(from, to)
		require.Error(t, err)
	})
}

func TestAdaptiveThresholdSeparatesInk(t *testing.T) {
	img := makeGray(100, 100, 200)
	fillRect(img, 48, 48, 52, 52, 50)

	bin := adaptiveThreshold(img, 15, 10)
	assert.Equal(t, uint8(0), bin.GrayAt(50, 50).Y, "dark block center is ink")
	assert.Equal(t, uint8(255), bin.GrayAt(5, 5).Y, "far corner is paper")
}

func TestOtsuThresholdSplitsBimodal(t *testing.T) {
	img := makeGray(100, 100, 50)
	fillRect(img, 0, 0, 99, 49, 200)

	thr := otsuThreshold(img)
	assert.GreaterOrEqual(t, thr, uint8(50))
	assert.Less(t, thr, uint8(200))
}

func TestCloseDarkBridgesGap(t *testing.T) {
	img := makeGray(60, 60, 255)
	for x := 10; x <= 50; x++ {
		if x == 30 {
			continue // one-pixel break in the stroke
		}
		img.SetGray(x, 30, color.Gray{Y: 0})
	}

	closed := closeDark(img, 1)
	assert.Equal(t, uint8(0), closed.GrayAt(30, 30).Y, "gap must be bridged")
	assert.Equal(t, uint8(255), closed.GrayAt(30, 33).Y, "stroke must not bloat")
}
