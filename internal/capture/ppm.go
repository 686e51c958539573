package capture

import (
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"io"
	"strings"

	"github.com/spakin/netpbm"
)

// EncodePPM writes img as a binary (P6) PPM with maxval 255.
func EncodePPM(w io.Writer, img image.Image) error {
	return netpbm.Encode(w, img, &netpbm.EncodeOptions{
		Format:   netpbm.PPM,
		MaxValue: 255,
	})
}

// DecodePPM parses a PPM with maxval 255 into an opaque RGBA image. Other
// netpbm flavors are rejected rather than promoted.
func DecodePPM(r io.Reader) (*image.RGBA, error) {
	src, err := netpbm.Decode(r, &netpbm.DecodeOptions{
		Target: netpbm.PPM,
		Exact:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("ppm: %w", err)
	}
	if max := src.MaxValue(); max != 255 {
		return nil, fmt.Errorf("ppm: unsupported maxval %d", max)
	}

	b := src.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Rect, src, b.Min, draw.Src)
	return img, nil
}

// DecodeBase64PPM reverses EncodeBase64PPM.
func DecodeBase64PPM(s string) (*image.RGBA, error) {
	if s == "" {
		return nil, fmt.Errorf("ppm: empty payload")
	}
	return DecodePPM(base64.NewDecoder(base64.StdEncoding, strings.NewReader(s)))
}
