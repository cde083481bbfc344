// Package archive bundles extracted frame images for storage next to a report.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nfnt/resize"
)

type ZipCreator struct {
	maxWidth uint
}

type Option func(*ZipCreator)

// WithMaxImageWidth downscales JPEG and PNG entries wider than w pixels,
// keeping the aspect ratio. Zero keeps images untouched.
func WithMaxImageWidth(w int) Option {
	return func(z *ZipCreator) {
		if w > 0 {
			z.maxWidth = uint(w)
		}
	}
}

func NewZipCreator(opts ...Option) *ZipCreator {
	z := &ZipCreator{}
	for _, opt := range opts {
		opt(z)
	}
	return z
}

// CreateZip writes filePaths into a new archive at outputPath, flat, in the
// given order. Colliding base names get a numeric suffix. A partial archive
// is removed on error.
func (z *ZipCreator) CreateZip(ctx context.Context, filePaths []string, outputPath string) (err error) {
	zipFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create zip file: %w", err)
	}
	defer func() {
		if cerr := zipFile.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close zip file: %w", cerr)
		}
		if err != nil {
			os.Remove(outputPath)
		}
	}()

	zw := zip.NewWriter(zipFile)
	used := make(map[string]int, len(filePaths))
	for _, fp := range filePaths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := z.addFile(zw, fp, entryName(fp, used)); err != nil {
			return fmt.Errorf("add %s to zip: %w", fp, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish zip: %w", err)
	}
	return nil
}

func entryName(path string, used map[string]int) string {
	name := filepath.Base(path)
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "_" + strconv.Itoa(n) + ext
}

func (z *ZipCreator) addFile(zw *zip.Writer, path, name string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	// Frame images are already compressed.
	header.Method = zip.Store

	var content io.Reader = file
	if z.maxWidth > 0 {
		shrunk, ok, err := z.shrink(file, name)
		if err != nil {
			return err
		}
		if ok {
			content = shrunk
		} else if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}
	}

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, content)
	return err
}

// shrink re-encodes an image wider than maxWidth. ok is false for files that
// are not decodable images or already fit, which are then stored verbatim.
func (z *ZipCreator) shrink(r io.Reader, name string) (*bytes.Buffer, bool, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
		return nil, false, nil
	}
	img, format, err := image.Decode(r)
	if err != nil || uint(img.Bounds().Dx()) <= z.maxWidth {
		return nil, false, nil
	}

	small := resize.Resize(z.maxWidth, 0, img, resize.Lanczos3)
	var buf bytes.Buffer
	if format == "png" {
		err = png.Encode(&buf, small)
	} else {
		err = jpeg.Encode(&buf, small, &jpeg.Options{Quality: 85})
	}
	if err != nil {
		return nil, false, fmt.Errorf("encode resized %s: %w", name, err)
	}
	return &buf, true, nil
}
