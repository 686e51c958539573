package thumbcache

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/HyprOverview/internal/capture"
)

func thumb(c color.RGBA) string {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, 255
	}
	return capture.EncodeBase64PPM(img)
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, uint64(0), Checksum(""))
	a := thumb(color.RGBA{R: 1})
	assert.NotZero(t, Checksum(a))
	assert.Equal(t, Checksum(a), Checksum(a))
	assert.NotEqual(t, Checksum(a), Checksum(thumb(color.RGBA{R: 2})))
}

func TestStoreLookupRoundTrip(t *testing.T) {
	c := New()
	gen := c.BumpGeneration()
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))

	c.Store("0xa", 42, img, gen)

	got, ok := c.Lookup("0xa", 42, gen)
	require.True(t, ok)
	assert.Same(t, img, got)

	_, ok = c.Lookup("0xa", 43, gen)
	assert.False(t, ok, "checksum mismatch is a miss")

	_, ok = c.Lookup("0xa", 0, gen)
	assert.True(t, ok, "checksum 0 accepts any entry")

	_, ok = c.Lookup("0xb", 42, gen)
	assert.False(t, ok)

	c.Store("", 1, img, gen)
	c.Store("0xc", 1, nil, gen)
	assert.Equal(t, 1, c.Len())
}

func TestPruneKeepsOnlyTouched(t *testing.T) {
	c := New()
	g1 := c.BumpGeneration()
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	c.Store("0xa", 1, img, g1)
	c.Store("0xb", 2, img, g1)

	g2 := c.BumpGeneration()
	_, ok := c.Lookup("0xa", 1, g2)
	require.True(t, ok)

	assert.Equal(t, 1, c.Prune(g2))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.Prune(g2), "prune is idempotent")
	assert.Equal(t, 1, c.Len())

	_, ok = c.Lookup("0xb", 2, g2)
	assert.False(t, ok)
}

func TestGenerationSkipsZero(t *testing.T) {
	c := New()
	c.generation = math.MaxUint32
	assert.Equal(t, uint32(1), c.BumpGeneration())
	assert.Equal(t, uint32(1), c.Generation())
}

func TestResolve(t *testing.T) {
	c := New()
	gen := c.BumpGeneration()
	red := thumb(color.RGBA{R: 200})

	img, hit, err := c.Resolve("0xa", red, gen)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, img.Bounds().Dx())

	again, hit, err := c.Resolve("0xa", red, gen)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Same(t, img, again)

	// a new payload for the same window replaces the entry
	blue := thumb(color.RGBA{B: 200})
	_, hit, err = c.Resolve("0xa", blue, gen)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, c.Len())

	img, _, err = c.Resolve("0xa", "", gen)
	assert.NoError(t, err)
	assert.Nil(t, img)

	_, _, err = c.Resolve("0xb", "!!notbase64", gen)
	assert.Error(t, err)
}
