package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/clipnote/clipnote/pkg/utils"
)

// ErrInvalidFilename is returned for storage names that are empty or
// carry path components.
var ErrInvalidFilename = errors.New("invalid storage filename")

// FileStore keeps uploaded audio in a single directory under opaque
// storage names. Names are write-once: a second write under the same
// name fails instead of overwriting.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := utils.MakeDir(dir); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

// Path validates name and returns its location inside the store.
// Anything that could escape the store directory is rejected.
func (s *FileStore) Path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", ErrInvalidFilename
	}
	return filepath.Join(s.dir, name), nil
}

// Save streams r into the store under name. The O_EXCL create keeps
// concurrent uploads from ever colliding on the same path.
func (s *FileStore) Save(name string, r io.Reader) (int64, error) {
	path, err := s.Path(name)
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", name, err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(path)
		return 0, fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("closing %s: %w", name, err)
	}
	return n, nil
}

// Remove deletes a stored file. Used to clean up when a database
// commit fails after the file write.
func (s *FileStore) Remove(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	return utils.DeleteFile(path)
}

// Exists reports whether name is present in the store.
func (s *FileStore) Exists(name string) bool {
	path, err := s.Path(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
