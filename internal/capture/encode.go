package capture

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"github.com/bryanchriswhite/HyprOverview/internal/wayland"
)

// TargetSize returns the output size for a source of srcW x srcH limited to
// maxW. Aspect ratio is kept, images are never upscaled, and both sides are
// at least 1.
func TargetSize(srcW, srcH, maxW int) (int, int) {
	scale := 1.0
	if maxW > 0 && srcW > maxW {
		scale = float64(maxW) / float64(srcW)
	}
	w := int(math.Floor(float64(srcW)*scale + 0.5))
	h := int(math.Floor(float64(srcH)*scale + 0.5))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// Downsample scales src with nearest-neighbor sampling into a new RGBA image.
func Downsample(src image.Image, maxW int) *image.RGBA {
	b := src.Bounds()
	w, h := TargetSize(b.Dx(), b.Dy(), maxW)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Rect, src, b, draw.Src, nil)
	return dst
}

// EncodeBase64PPM returns the standard base64 (no line wrapping) of img as a
// binary PPM.
func EncodeBase64PPM(img image.Image) string {
	var buf bytes.Buffer
	// writes to a bytes.Buffer cannot fail
	_ = EncodePPM(&buf, img)
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// shmImage views a mapped compositor buffer as an image without copying.
type shmImage struct {
	pix    []byte
	w, h   int
	stride int
	// swap is set for the *BGR formats (R,G,B,A in memory)
	swap bool
}

func newShmImage(pix []byte, w, h, stride int, format uint32) *shmImage {
	return &shmImage{
		pix:    pix,
		w:      w,
		h:      h,
		stride: stride,
		swap:   format == wayland.FormatABGR8888 || format == wayland.FormatXBGR8888,
	}
}

func (s *shmImage) ColorModel() color.Model { return color.RGBAModel }

func (s *shmImage) Bounds() image.Rectangle { return image.Rect(0, 0, s.w, s.h) }

func (s *shmImage) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= s.w || y >= s.h {
		return color.RGBA{}
	}
	i := y*s.stride + x*4
	if i+3 >= len(s.pix) {
		return color.RGBA{A: 0xff}
	}
	p := s.pix[i : i+4]
	// alpha is ignored; thumbnails are opaque
	if s.swap {
		return color.RGBA{R: p[0], G: p[1], B: p[2], A: 0xff}
	}
	return color.RGBA{R: p[2], G: p[1], B: p[0], A: 0xff}
}
