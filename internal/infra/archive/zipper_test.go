package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCreateZipKeepsOrderAndRenamesCollisions(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeFile(t, filepath.Join(dir, "a", "frame.jpg"), "one"),
		writeFile(t, filepath.Join(dir, "b", "frame.jpg"), "two"),
		writeFile(t, filepath.Join(dir, "other.png"), "three"),
	}
	out := filepath.Join(dir, "frames.zip")

	require.NoError(t, NewZipCreator().CreateZip(context.Background(), paths, out))

	zr, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer zr.Close()

	var names, contents []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		contents = append(contents, string(b))
	}
	assert.Equal(t, []string{"frame.jpg", "frame_1.jpg", "other.png"}, names)
	assert.Equal(t, []string{"one", "two", "three"}, contents)
}

func TestCreateZipRemovesPartialArchive(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "frames.zip")

	err := NewZipCreator().CreateZip(context.Background(), []string{filepath.Join(dir, "missing.jpg")}, out)
	require.Error(t, err)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCreateZipHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewZipCreator().CreateZip(ctx, []string{writeFile(t, filepath.Join(dir, "f.jpg"), "x")}, filepath.Join(dir, "z.zip"))
	assert.ErrorIs(t, err, context.Canceled)
}

func writeImage(t *testing.T, path string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if filepath.Ext(path) == ".png" {
		require.NoError(t, png.Encode(&buf, img))
	} else {
		require.NoError(t, jpeg.Encode(&buf, img, nil))
	}
	return writeFile(t, path, buf.String())
}

func readEntries(t *testing.T, path string) map[string][]byte {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	out := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = b
	}
	return out
}

func TestCreateZipDownscalesWideImages(t *testing.T) {
	dir := t.TempDir()
	small := writeImage(t, filepath.Join(dir, "small.jpg"), 12, 6)
	paths := []string{
		writeImage(t, filepath.Join(dir, "wide.jpg"), 64, 32),
		writeImage(t, filepath.Join(dir, "wide.png"), 64, 32),
		small,
		writeFile(t, filepath.Join(dir, "notes.jpg"), "not an image"),
	}
	out := filepath.Join(dir, "frames.zip")

	require.NoError(t, NewZipCreator(WithMaxImageWidth(16)).CreateZip(context.Background(), paths, out))
	entries := readEntries(t, out)

	for _, name := range []string{"wide.jpg", "wide.png"} {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(entries[name]))
		require.NoError(t, err, name)
		assert.Equal(t, 16, cfg.Width, name)
		assert.Equal(t, 8, cfg.Height, name)
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(entries["wide.png"]))
	require.NoError(t, err)
	assert.Equal(t, "png", format)

	original, err := os.ReadFile(small)
	require.NoError(t, err)
	assert.Equal(t, original, entries["small.jpg"])
	assert.Equal(t, "not an image", string(entries["notes.jpg"]))
}

func TestWithMaxImageWidthIgnoresNonPositive(t *testing.T) {
	assert.Zero(t, NewZipCreator(WithMaxImageWidth(0)).maxWidth)
	assert.Zero(t, NewZipCreator(WithMaxImageWidth(-5)).maxWidth)
}
