package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/audiobook-tts/internal/core"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o640
)

// ErrInvalidKey reports a key that would escape the storage root.
var ErrInvalidKey = errors.New("invalid artifact key")

// LocalStore keeps artifacts in a directory tree.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory when needed.
func NewLocalStore(root string) (*LocalStore, error) {
	absolute, absErr := filepath.Abs(root)
	if absErr != nil {
		return nil, fmt.Errorf("resolve local storage root %s: %w", root, absErr)
	}

	mkdirErr := os.MkdirAll(absolute, dirPermissions)
	if mkdirErr != nil {
		return nil, fmt.Errorf("create local storage root %s: %w", absolute, mkdirErr)
	}

	return &LocalStore{root: absolute}, nil
}

// Root returns the absolute storage directory.
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) pathOf(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	return filepath.Join(s.root, cleaned), nil
}

// Save copies the file at src under key.
func (s *LocalStore) Save(key, src string) error {
	dest, keyErr := s.pathOf(key)
	if keyErr != nil {
		return keyErr
	}

	mkdirErr := os.MkdirAll(filepath.Dir(dest), dirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf("%w: %w", core.ErrUploadFailed, mkdirErr)
	}

	in, openErr := os.Open(src)
	if openErr != nil {
		return fmt.Errorf("%w: %w", core.ErrUploadFailed, openErr)
	}
	defer in.Close()

	out, createErr := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePermissions)
	if createErr != nil {
		return fmt.Errorf("%w: %w", core.ErrUploadFailed, createErr)
	}

	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()

	if joined := errors.Join(copyErr, closeErr); joined != nil {
		_ = os.Remove(dest)

		return fmt.Errorf("%w: %w", core.ErrUploadFailed, joined)
	}

	return nil
}

// Read returns the bytes stored under key.
func (s *LocalStore) Read(key string) ([]byte, error) {
	path, keyErr := s.pathOf(key)
	if keyErr != nil {
		return nil, keyErr
	}

	data, readErr := os.ReadFile(path)
	if os.IsNotExist(readErr) {
		return nil, fmt.Errorf("local artifact %s: %w", key, core.ErrNotFound)
	}

	if readErr != nil {
		return nil, fmt.Errorf("read local artifact %s: %w", key, readErr)
	}

	return data, nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *LocalStore) Remove(key string) error {
	path, keyErr := s.pathOf(key)
	if keyErr != nil {
		return keyErr
	}

	removeErr := os.Remove(path)
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("remove local artifact %s: %w", key, removeErr)
	}

	return nil
}
