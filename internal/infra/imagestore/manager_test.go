package imagestore

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, thumbWidth int) *Manager {
	t.Helper()
	m := New(Options{PublicDir: t.TempDir(), ThumbnailWidth: thumbWidth})
	require.NoError(t, m.EnsureDirectoriesExist())
	return m
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// ファイルを直接置く
func writeFile(t *testing.T, m *Manager, name string, v Variant) string {
	t.Helper()
	p := m.AbsolutePath(name, v)
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	return p
}

func TestEnsureDirectoriesExist_Idempotent(t *testing.T) {
	m := New(Options{PublicDir: t.TempDir()})

	require.NoError(t, m.EnsureDirectoriesExist())
	require.NoError(t, m.EnsureDirectoriesExist())

	for _, v := range []Variant{VariantOriginal, VariantThumbnail} {
		info, err := os.Stat(filepath.Dir(m.AbsolutePath("x", v)))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestSave_WritesOriginalAndThumbnail(t *testing.T) {
	m := newTestManager(t, 32)
	body := pngBytes(t, 100, 50)

	stored, err := m.Save(context.Background(), "photo.png", bytes.NewReader(body))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(stored.RelativePath, BasePath+"uploads/"))
	assert.Equal(t, RelativePath(stored.Filename, VariantThumbnail), stored.ThumbnailPath)
	assert.Equal(t, int64(len(body)), stored.SizeBytes)

	got, err := os.ReadFile(m.AbsolutePath(stored.Filename, VariantOriginal))
	require.NoError(t, err)
	assert.Equal(t, body, got)

	thumb, err := imaging.Open(m.AbsolutePath(stored.Filename, VariantThumbnail))
	require.NoError(t, err)
	assert.Equal(t, 32, thumb.Bounds().Dx())
	assert.Equal(t, 16, thumb.Bounds().Dy())
}

// 小さい画像は拡大しない
func TestSave_SmallImageThumbnailKeepsSize(t *testing.T) {
	m := newTestManager(t, 320)

	stored, err := m.Save(context.Background(), "small.png", bytes.NewReader(pngBytes(t, 10, 10)))
	require.NoError(t, err)

	thumb, err := imaging.Open(m.AbsolutePath(stored.Filename, VariantThumbnail))
	require.NoError(t, err)
	assert.Equal(t, 10, thumb.Bounds().Dx())
}

// デコードできない画像でも原本は保存する
func TestSave_UndecodableSkipsThumbnail(t *testing.T) {
	m := newTestManager(t, 32)

	stored, err := m.Save(context.Background(), "broken.png", strings.NewReader("not an image"))
	require.NoError(t, err)
	assert.Empty(t, stored.ThumbnailPath)

	_, err = os.Stat(m.AbsolutePath(stored.Filename, VariantOriginal))
	assert.NoError(t, err)
	_, err = os.Stat(m.AbsolutePath(stored.Filename, VariantThumbnail))
	assert.True(t, os.IsNotExist(err))
}

func TestSave_NoThumbnailWhenDisabled(t *testing.T) {
	m := newTestManager(t, 0)

	stored, err := m.Save(context.Background(), "photo.png", bytes.NewReader(pngBytes(t, 10, 10)))
	require.NoError(t, err)
	assert.Empty(t, stored.ThumbnailPath)
}

func TestSave_CanceledContext(t *testing.T) {
	m := newTestManager(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Save(ctx, "photo.png", strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(filepath.Dir(m.AbsolutePath("x", VariantOriginal)))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestValidateImageExists(t *testing.T) {
	m := newTestManager(t, 0)
	ctx := context.Background()
	writeFile(t, m, "here.png", VariantOriginal)

	res := m.ValidateImageExists(ctx, RelativePath("here.png", VariantOriginal))
	assert.True(t, res.Exists)
	assert.Equal(t, "here.png", res.Filename)
	assert.Equal(t, m.AbsolutePath("here.png", VariantOriginal), res.AbsolutePath)

	res = m.ValidateImageExists(ctx, RelativePath("missing.png", VariantOriginal))
	assert.False(t, res.Exists)
	assert.Equal(t, errImageNotFound, res.Error)

	res = m.ValidateImageExists(ctx, "")
	assert.Equal(t, errNoImagePath, res.Error)

	res = m.ValidateImageExists(ctx, "/etc/passwd")
	assert.Equal(t, errInvalidImagePath, res.Error)
}
