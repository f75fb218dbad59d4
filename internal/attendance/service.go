package attendance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"faceattend/internal/calendar"
	"faceattend/internal/cloudinary"
	"faceattend/internal/registry"
	"faceattend/internal/scan"
)

// Identifier matches a staged capture against the registry.
type Identifier interface {
	Identify(ctx context.Context, uploadPath string) (scan.Result, error)
}

// Stager stages uploaded captures.
type Stager interface {
	Save(filename string, r io.Reader) (string, error)
	Remove(path string) error
}

// References manages reference images.
type References interface {
	List() ([]registry.Reference, error)
	Enroll(employeeID, ext string, src io.Reader) (registry.Reference, error)
	Remove(employeeID string) (bool, error)
}

// FaceChecker computes the embedding of an image, failing when the face
// service finds no face in it.
type FaceChecker interface {
	Compute(ctx context.Context, path string) ([]float32, error)
}

// ErrNoFace is returned when enrolling a photo without a detectable face.
var ErrNoFace = errors.New("no detectable face in photo")

// Archiver keeps a copy of matched captures.
type Archiver interface {
	UploadFile(ctx context.Context, path, subfolder, publicID string) (*cloudinary.UploadResult, error)
}

// Outcome is the result of one attendance attempt.
type Outcome struct {
	Matched      bool             `json:"matched"`
	EmployeeID   string           `json:"emp_no,omitempty"`
	EmployeeName string           `json:"emp_name,omitempty"`
	Time         string           `json:"time,omitempty"`
	Recorded     string           `json:"recorded,omitempty"`
	Distance     float64          `json:"distance,omitempty"`
	Candidates   []scan.Candidate `json:"candidates"`
	Failed       int              `json:"failed"`
	ArchiveURL   string           `json:"archive_url,omitempty"`
}

// Service runs attendance attempts end to end: stage, identify, record.
type Service struct {
	stager   Stager
	scanner  Identifier
	recorder *Recorder
	repo     *Repository
	refs     References
	faces    FaceChecker
	archive  Archiver
}

// NewService wires a service. faces and archive may be nil.
func NewService(stager Stager, scanner Identifier, recorder *Recorder, repo *Repository, refs References, faces FaceChecker, archive Archiver) *Service {
	return &Service{
		stager:   stager,
		scanner:  scanner,
		recorder: recorder,
		repo:     repo,
		refs:     refs,
		faces:    faces,
		archive:  archive,
	}
}

// Stage writes an upload to the staging directory for a later MarkStaged.
func (s *Service) Stage(filename string, r io.Reader) (string, error) {
	return s.stager.Save(filename, r)
}

// Discard removes a staged capture.
func (s *Service) Discard(path string) {
	if err := s.stager.Remove(path); err != nil {
		log.Printf("attendance: remove staged %s failed: %v", path, err)
	}
}

// Mark stages the upload, identifies the employee and records attendance.
// An unidentified face is a normal outcome with Matched false.
func (s *Service) Mark(ctx context.Context, filename string, r io.Reader) (Outcome, error) {
	path, err := s.stager.Save(filename, r)
	if err != nil {
		return Outcome{}, err
	}
	defer s.Discard(path)
	return s.MarkStaged(ctx, path)
}

// MarkStaged identifies and records an already staged capture.
func (s *Service) MarkStaged(ctx context.Context, path string) (Outcome, error) {
	res, err := s.scanner.Identify(ctx, path)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Candidates: res.Candidates, Failed: res.Failed}
	if out.Candidates == nil {
		out.Candidates = []scan.Candidate{}
	}
	if !res.Matched {
		log.Printf("attendance: no employee identified (%d candidates, %d failed)", len(res.Candidates), res.Failed)
		return out, nil
	}

	stamp, err := s.recorder.Record(ctx, res.EmployeeID)
	if err != nil {
		return Outcome{}, err
	}
	name, err := s.repo.EmployeeName(ctx, res.EmployeeID)
	if err != nil {
		log.Printf("attendance: name lookup for %s failed: %v", res.EmployeeID, err)
	}

	out.Matched = true
	out.EmployeeID = res.EmployeeID
	out.EmployeeName = name
	out.Time = stamp.Time
	out.Recorded = stamp.String()
	out.Distance = res.Distance
	out.ArchiveURL = s.archiveCapture(ctx, path, res.EmployeeID, stamp)
	log.Printf("attendance: recorded %s at %s (distance %.4f)", res.EmployeeID, out.Recorded, res.Distance)
	return out, nil
}

func (s *Service) archiveCapture(ctx context.Context, path, employeeID string, stamp calendar.Stamp) string {
	if s.archive == nil {
		return ""
	}
	subfolder := stamp.YearKey() + "-" + stamp.Month
	result, err := s.archive.UploadFile(ctx, path, subfolder, employeeID+"-"+stamp.Day)
	if err != nil {
		log.Printf("attendance: archive capture for %s failed: %v", employeeID, err)
		return ""
	}
	return result.SecureURL
}

// Enroll stores a reference image and, when given, the employee's display
// name. With a face checker configured the photo is staged first and refused
// unless a face is found with the verification detector.
func (s *Service) Enroll(ctx context.Context, employeeID, name, filename string, r io.Reader) (registry.Reference, error) {
	if employeeID == "" {
		return registry.Reference{}, ErrEmployeeRequired
	}
	if err := registry.ValidateID(employeeID); err != nil {
		return registry.Reference{}, err
	}
	if !registry.IsImage(filename) {
		return registry.Reference{}, fmt.Errorf("%w: %q", registry.ErrUnsupportedImage, filepath.Ext(filename))
	}

	src := r
	if s.faces != nil {
		path, err := s.stager.Save(filename, r)
		if err != nil {
			return registry.Reference{}, err
		}
		defer s.Discard(path)
		if _, err := s.faces.Compute(ctx, path); err != nil {
			return registry.Reference{}, fmt.Errorf("%w: %v", ErrNoFace, err)
		}
		f, err := os.Open(path)
		if err != nil {
			return registry.Reference{}, err
		}
		defer f.Close()
		src = f
	}

	ref, err := s.refs.Enroll(employeeID, filepath.Ext(filename), src)
	if err != nil {
		return registry.Reference{}, err
	}
	if name != "" {
		if err := s.repo.SetEmployeeName(ctx, employeeID, name); err != nil {
			return ref, err
		}
	}
	return ref, nil
}

// ErrUnknownEmployee is returned when removing an employee without a reference image.
var ErrUnknownEmployee = errors.New("employee not enrolled")

// Unenroll removes an employee's reference image. Attendance history stays.
func (s *Service) Unenroll(employeeID string) error {
	removed, err := s.refs.Remove(employeeID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrUnknownEmployee
	}
	return nil
}

// Employees lists enrolled reference images.
func (s *Service) Employees() ([]registry.Reference, error) {
	return s.refs.List()
}
