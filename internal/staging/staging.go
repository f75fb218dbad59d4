package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const defaultName = "capture.jpg"

// Stager writes uploaded captures into a temp directory. Every saved file gets
// a unique name so concurrent attempts never share a path.
type Stager struct {
	dir string
}

// New creates the temp directory if needed.
func New(dir string) (*Stager, error) {
	if dir == "" {
		return nil, errors.New("staging dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Stager{dir: dir}, nil
}

// Dir returns the temp directory.
func (s *Stager) Dir() string { return s.dir }

// Clear deletes every entry in the temp directory. It keeps going when a
// single removal fails and returns all failures joined.
func (s *Stager) Clear() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read staging dir: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Save writes r under a unique name derived from filename and returns the path.
func (s *Stager) Save(filename string, r io.Reader) (string, error) {
	path := filepath.Join(s.dir, uuid.NewString()+"-"+cleanName(filename))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close staged file: %w", err)
	}
	return path, nil
}

// Remove deletes a staged file. A missing file is not an error.
func (s *Stager) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func cleanName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return defaultName
	}
	return name
}
