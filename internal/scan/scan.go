package scan

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"faceattend/internal/faceclient"
	"faceattend/internal/metrics"
	"faceattend/internal/registry"
)

// DefaultMaxDistance is the cutoff a verified match must stay strictly below.
const DefaultMaxDistance = 1.0

// Verifier performs one pairwise verification.
type Verifier interface {
	Verify(ctx context.Context, refPath, capturePath string, opts faceclient.Options) (*faceclient.VerifyResult, error)
}

// Lister returns the reference images in scan order.
type Lister interface {
	List() ([]registry.Reference, error)
}

// Candidate is the outcome of verifying the upload against one reference.
type Candidate struct {
	EmployeeID string  `json:"employee_id"`
	Verified   bool    `json:"verified"`
	Distance   float64 `json:"distance"`
	Error      string  `json:"error,omitempty"`
	Err        error   `json:"-"`
	Path       string  `json:"-"`
}

// Failed reports whether the face service could not evaluate this reference.
func (c Candidate) Failed() bool { return c.Err != nil }

// Result is the outcome of a full scan.
type Result struct {
	Matched    bool
	EmployeeID string
	Distance   float64
	Candidates []Candidate
	Failed     int
}

// Config tunes a Scanner.
type Config struct {
	Options     faceclient.Options
	MaxDistance float64
	Workers     int
}

// Scanner identifies an uploaded face against the registry.
type Scanner struct {
	refs     Lister
	verifier Verifier
	cfg      Config
}

// New builds a scanner.
func New(refs Lister, verifier Verifier, cfg Config) *Scanner {
	if cfg.MaxDistance <= 0 {
		cfg.MaxDistance = DefaultMaxDistance
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Scanner{refs: refs, verifier: verifier, cfg: cfg}
}

// Identify verifies uploadPath against every reference image and picks the
// verified candidate with the smallest distance below the cutoff. Ties go to
// the reference that sorts first. A scan without a qualifying candidate is
// not an error, nor is an upload the face service cannot read: every
// candidate then fails and the result is unmatched.
func (s *Scanner) Identify(ctx context.Context, uploadPath string) (Result, error) {
	start := time.Now()
	defer func() { metrics.ScanDuration.Observe(time.Since(start).Seconds()) }()

	refs, err := s.refs.List()
	if err != nil {
		metrics.Scans.WithLabelValues("error").Inc()
		return Result{}, err
	}

	candidates, err := s.verifyAll(ctx, refs, uploadPath)
	if err != nil {
		metrics.Scans.WithLabelValues("error").Inc()
		return Result{}, err
	}

	res := Select(candidates, s.cfg.MaxDistance)
	if res.Matched {
		metrics.Scans.WithLabelValues("matched").Inc()
	} else {
		metrics.Scans.WithLabelValues("unmatched").Inc()
	}
	return res, nil
}

func (s *Scanner) verifyAll(ctx context.Context, refs []registry.Reference, uploadPath string) ([]Candidate, error) {
	candidates := make([]Candidate, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			candidates[i] = s.verifyOne(gctx, ref, uploadPath)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return candidates, nil
}

func (s *Scanner) verifyOne(ctx context.Context, ref registry.Reference, uploadPath string) Candidate {
	c := Candidate{EmployeeID: ref.EmployeeID, Path: ref.Path}
	res, err := s.verifier.Verify(ctx, ref.Path, uploadPath, s.cfg.Options)
	if err != nil {
		metrics.CandidateFailures.Inc()
		log.Printf("scan: verify %s failed: %v", ref.Path, err)
		c.Err = err
		c.Error = err.Error()
		return c
	}
	c.Verified = res.Verified
	c.Distance = res.Distance
	return c
}

// Select picks the best candidate: verified, distance strictly below
// maxDistance, smallest distance, earliest on ties.
func Select(candidates []Candidate, maxDistance float64) Result {
	res := Result{Candidates: candidates}
	best := maxDistance
	for _, c := range candidates {
		if c.Failed() {
			res.Failed++
			continue
		}
		if c.Verified && c.Distance < best {
			best = c.Distance
			res.Matched = true
			res.EmployeeID = c.EmployeeID
			res.Distance = c.Distance
		}
	}
	return res
}
