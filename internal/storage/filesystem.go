package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FilesystemStorage keeps blobs as files under a root directory, like a
// blobstorage directory next to the database.
type FilesystemStorage struct {
	fs   afero.Fs
	root string
}

// NewFilesystemStorage creates a store rooted at root on fs.
func NewFilesystemStorage(fs afero.Fs, root string) *FilesystemStorage {
	return &FilesystemStorage{fs: fs, root: root}
}

func (s *FilesystemStorage) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Upload writes the object atomically via a temp file and rename.
func (s *FilesystemStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := s.path(key)
	if err := s.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	tmp := target + ".tmp"
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create blob: %w", err)
	}
	n, err := io.Copy(f, reader)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && size >= 0 && n != size {
		err = fmt.Errorf("short write: %d of %d bytes", n, size)
	}
	if err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := s.fs.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to move blob into place: %w", err)
	}
	return nil
}

// Download opens the object for reading.
func (s *FilesystemStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := s.fs.Open(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("failed to download object: %w", err)
	}
	return f, nil
}

// Delete removes the object; a missing object is not an error.
func (s *FilesystemStorage) Delete(ctx context.Context, key string) error {
	if err := s.fs.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Exists checks if an object exists.
func (s *FilesystemStorage) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := afero.Exists(s.fs, s.path(key))
	if err != nil {
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return ok, nil
}
