package cover

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestImage(t *testing.T, path string, width, height int) {
	t.Helper()
	img := imaging.New(width, height, color.NRGBA{R: 200, G: 120, B: 40, A: 255})
	require.NoError(t, imaging.Save(img, path))
}

func TestNormalizeDownscalesWideImages(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "dst.jpg")
	writeTestImage(t, src, 2400, 1600)

	require.NoError(t, Normalize(src, dst, 1200))

	out, err := imaging.Open(dst)
	require.NoError(t, err)
	assert.Equal(t, 1200, out.Bounds().Dx())
	assert.Equal(t, 800, out.Bounds().Dy())
}

func TestNormalizeKeepsSmallImages(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "dst.jpg")
	writeTestImage(t, src, 600, 900)

	require.NoError(t, Normalize(src, dst, 1200))

	out, err := imaging.Open(dst)
	require.NoError(t, err)
	assert.Equal(t, 600, out.Bounds().Dx())
	assert.Equal(t, 900, out.Bounds().Dy())
}

func TestNormalizeRejectsNonImages(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.jpg")
	require.NoError(t, os.WriteFile(src, []byte("not an image"), 0o644))

	err := Normalize(src, dst, 1200)
	assert.Error(t, err)
}

func TestNormalizeMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := Normalize(filepath.Join(dir, "absent.jpg"), filepath.Join(dir, "dst.jpg"), 1200)
	assert.Error(t, err)
}
