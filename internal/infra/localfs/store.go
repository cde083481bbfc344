package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/errs"
)

// Store reads source videos from the local disk and writes reports under
// OutDir, mirroring the object keys the worker uses in MinIO.
type Store struct {
	OutDir string
}

func NewStore(outDir string) *Store {
	return &Store{OutDir: outDir}
}

func (s *Store) OpenVideo(_ context.Context, path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, &errs.NotFoundError{Op: "open_video", Resource: "file", ID: path, Err: err}
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open video %s: %w", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat video %s: %w", path, err)
	}
	return f, stat.Size(), nil
}

func (s *Store) UploadReport(_ context.Context, key string, reader io.Reader, _ int64, _ string) error {
	dst, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	if _, err := io.Copy(out, reader); err != nil {
		out.Close()
		return fmt.Errorf("write report %s: %w", key, err)
	}
	return out.Close()
}

// Path maps an object key below OutDir. Keys escaping OutDir are rejected.
func (s *Store) Path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("report key %q escapes output dir", key)
	}
	return filepath.Join(s.OutDir, clean), nil
}
