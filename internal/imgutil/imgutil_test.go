package imgutil

import (
	"image"
	"image/color"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/pixelmatch/internal/match"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestToNRGBA_PackedIsReturnedAsIs(t *testing.T) {
	img := solid(4, 3, color.NRGBA{1, 2, 3, 255})
	assert.Same(t, img, ToNRGBA(img))
}

func TestToNRGBA_SubImage(t *testing.T) {
	img := solid(6, 6, color.NRGBA{10, 20, 30, 255})
	img.SetNRGBA(3, 3, color.NRGBA{200, 0, 0, 255})

	sub := img.SubImage(image.Rect(2, 2, 5, 5)).(*image.NRGBA)
	got := ToNRGBA(sub)

	assert.NotSame(t, sub, got)
	assert.Equal(t, image.Rect(0, 0, 3, 3), got.Bounds())
	assert.Equal(t, 3*4, got.Stride)
	assert.Equal(t, color.NRGBA{200, 0, 0, 255}, got.NRGBAAt(1, 1))
	assert.Equal(t, color.NRGBA{10, 20, 30, 255}, got.NRGBAAt(0, 0))
}

func TestToNRGBA_Gray(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 2, 2))
	g.SetGray(1, 0, color.Gray{Y: 77})

	got := ToNRGBA(g)
	assert.Equal(t, color.NRGBA{77, 77, 77, 255}, got.NRGBAAt(1, 0))
	assert.Equal(t, color.NRGBA{0, 0, 0, 255}, got.NRGBAAt(0, 0))
}

func TestCompare(t *testing.T) {
	a := solid(4, 4, color.NRGBA{255, 255, 255, 255})
	b := solid(4, 4, color.NRGBA{255, 255, 255, 255})
	b.SetNRGBA(0, 0, color.NRGBA{0, 0, 0, 255})

	res, err := Compare(a, b, match.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Mismatched)
	assert.Equal(t, 16, res.Total)
	assert.Equal(t, color.NRGBA{255, 0, 0, 255}, res.Diff.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, res.Diff.NRGBAAt(3, 3))
}

func TestCompareWorkers_MatchesCompare(t *testing.T) {
	a := solid(9, 7, color.NRGBA{40, 90, 160, 255})
	b := solid(9, 7, color.NRGBA{40, 90, 160, 255})
	b.SetNRGBA(2, 5, color.NRGBA{250, 250, 0, 255})
	b.SetNRGBA(8, 0, color.NRGBA{0, 0, 0, 255})

	want, err := Compare(a, b, match.DefaultOptions())
	require.NoError(t, err)
	got, err := CompareWorkers(a, b, match.DefaultOptions(), 4)
	require.NoError(t, err)

	assert.Equal(t, want.Stats, got.Stats)
	assert.Equal(t, want.Diff.Pix, got.Diff.Pix)
}

func TestCompare_SizeMismatch(t *testing.T) {
	_, err := Compare(solid(2, 2, color.NRGBA{}), solid(3, 2, color.NRGBA{}), match.DefaultOptions())
	assert.ErrorIs(t, err, match.ErrDimensionMismatch)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	img := solid(5, 4, color.NRGBA{12, 34, 56, 255})
	img.SetNRGBA(4, 3, color.NRGBA{250, 1, 2, 255})

	for _, name := range []string{"out.png", "out.bmp", "out.tiff", "nested/dir/out.png"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, Save(path, img))

			got, err := LoadNRGBA(path)
			require.NoError(t, err)
			assert.Equal(t, img.Bounds(), got.Bounds())
			assert.Equal(t, img.NRGBAAt(4, 3), got.NRGBAAt(4, 3))
			assert.Equal(t, img.NRGBAAt(0, 0), got.NRGBAAt(0, 0))
		})
	}
}

func TestSave_JPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jpg")
	require.NoError(t, Save(path, solid(8, 8, color.NRGBA{128, 128, 128, 255})))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 8), got.Bounds())
}

func TestSave_UnknownExtension(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "out.xyz"), solid(1, 1, color.NRGBA{}))
	assert.Error(t, err)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode(strings.NewReader("not an image"))
	assert.Error(t, err)
}
