package registry

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInvalidID is returned for employee ids that cannot be used as file stems.
var ErrInvalidID = errors.New("invalid employee id")

// ErrUnsupportedImage is returned when enrolling a file that is not a known image type.
var ErrUnsupportedImage = errors.New("unsupported image type")

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".bmp":  true,
}

// Reference is one enrolled face image.
type Reference struct {
	EmployeeID string `json:"employee_id"`
	Path       string `json:"path"`
}

// Registry is a directory of reference images named <employee-id>.<ext>.
type Registry struct {
	dir string
}

// New creates the registry directory if needed.
func New(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	return &Registry{dir: dir}, nil
}

// Dir returns the registry directory.
func (r *Registry) Dir() string { return r.dir }

// List returns every reference image sorted by file name.
func (r *Registry) List() ([]Reference, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsImage(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	refs := make([]Reference, 0, len(names))
	for _, name := range names {
		refs = append(refs, Reference{
			EmployeeID: EmployeeID(name),
			Path:       filepath.Join(r.dir, name),
		})
	}
	return refs, nil
}

// Enroll stores the reference image for employeeID, replacing any earlier one.
func (r *Registry) Enroll(employeeID, ext string, src io.Reader) (Reference, error) {
	if err := ValidateID(employeeID); err != nil {
		return Reference{}, err
	}
	ext = strings.ToLower(ext)
	if !imageExts[ext] {
		return Reference{}, fmt.Errorf("%w: %q", ErrUnsupportedImage, ext)
	}

	tmp, err := os.CreateTemp(r.dir, ".enroll-*")
	if err != nil {
		return Reference{}, fmt.Errorf("create enroll file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return Reference{}, fmt.Errorf("write enroll file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Reference{}, err
	}

	if _, err := r.Remove(employeeID); err != nil {
		return Reference{}, err
	}
	path := filepath.Join(r.dir, employeeID+ext)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Reference{}, fmt.Errorf("store reference image: %w", err)
	}
	return Reference{EmployeeID: employeeID, Path: path}, nil
}

// Remove deletes every reference image of employeeID and reports whether any existed.
func (r *Registry) Remove(employeeID string) (bool, error) {
	if err := ValidateID(employeeID); err != nil {
		return false, err
	}
	refs, err := r.List()
	if err != nil {
		return false, err
	}
	removed := false
	for _, ref := range refs {
		if ref.EmployeeID != employeeID {
			continue
		}
		if err := os.Remove(ref.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		removed = true
	}
	return removed, nil
}

// EmployeeID derives the id from a reference file name: the part before the first dot.
func EmployeeID(name string) string {
	base := filepath.Base(name)
	if i := strings.Index(base, "."); i >= 0 {
		return base[:i]
	}
	return base
}

// IsImage reports whether name has a supported image extension.
func IsImage(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// ValidateID rejects ids that are empty or would not survive as a file stem
// and a tree key.
func ValidateID(id string) error {
	if id == "" || strings.ContainsAny(id, "./\\#$[]") || strings.TrimSpace(id) != id {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
