// Package facematch selects the enrolled employee that best matches a submitted photo.
package facematch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kozaktomas/rh360-attendance/internal/config"
	"github.com/kozaktomas/rh360-attendance/internal/database"
)

var (
	// ErrNoFace is returned by extractors when the photo contains no face.
	ErrNoFace = errors.New("no face detected in photo")
	// ErrNoMatch is returned when no gallery entry is close and confident enough.
	ErrNoMatch = errors.New("face not recognized")
	// ErrTimeout is returned when matching exceeds the verification timeout.
	ErrTimeout = errors.New("face verification timed out")
)

// Extractor turns a photo into a face embedding.
type Extractor interface {
	ExtractEmbedding(ctx context.Context, photo []byte) ([]float32, error)
}

// Gallery searches enrolled faces of active employees.
type Gallery interface {
	FindNearest(ctx context.Context, embedding []float32, limit int) ([]database.GalleryMatch, error)
}

// Candidate is the best distance found for one employee.
type Candidate struct {
	EmployeeID string  `json:"employee_id"`
	FaceID     int64   `json:"face_id"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
}

// Match is an accepted face match.
type Match struct {
	Candidate
	Elapsed    time.Duration `json:"elapsed"`
	Candidates []Candidate   `json:"candidates"` // best per employee, closest first
}

// Matcher runs extraction and gallery search under the verification timeout.
type Matcher struct {
	extractor     Extractor
	gallery       Gallery
	baseTolerance float64
	minConfidence float64
	ceiling       float64
	timeout       time.Duration
	candidates    int
}

// NewMatcher creates a matcher using the thresholds of cfg.
func NewMatcher(extractor Extractor, gallery Gallery, cfg config.AttendanceConfig) *Matcher {
	ceiling := cfg.ToleranceCeiling
	if ceiling <= 0 {
		ceiling = 1.0
	}
	return &Matcher{
		extractor:     extractor,
		gallery:       gallery,
		baseTolerance: cfg.BaseTolerance,
		minConfidence: cfg.MinConfidence,
		ceiling:       ceiling,
		timeout:       cfg.VerificationTimeout,
		candidates:    database.GalleryCandidates,
	}
}

// Confidence maps a distance to [0,1]; smaller distances give higher confidence.
func (m *Matcher) Confidence(distance float64) float64 {
	c := 1 - distance/m.ceiling
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

type matchResult struct {
	match *Match
	err   error
}

// Match identifies the employee in photo. The work runs in its own goroutine
// and is abandoned with ErrTimeout once the verification timeout expires.
// Matching never writes, so an abandoned attempt leaves nothing behind.
func (m *Matcher) Match(ctx context.Context, photo []byte) (*Match, error) {
	start := time.Now()
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	done := make(chan matchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- matchResult{err: fmt.Errorf("face matching panicked: %v", r)}
			}
		}()
		match, err := m.match(ctx, photo)
		done <- matchResult{match: match, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, res.err
		}
		res.match.Elapsed = time.Since(start)
		return res.match, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("face matching cancelled: %w", ctx.Err())
	}
}

func (m *Matcher) match(ctx context.Context, photo []byte) (*Match, error) {
	embedding, err := m.extractor.ExtractEmbedding(ctx, photo)
	if err != nil {
		return nil, fmt.Errorf("extract embedding: %w", err)
	}

	nearest, err := m.gallery.FindNearest(ctx, embedding, m.candidates)
	if err != nil {
		return nil, fmt.Errorf("search gallery: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := m.bestPerEmployee(nearest)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: gallery is empty", ErrNoMatch)
	}

	best := candidates[0]
	if best.Distance > m.baseTolerance {
		return nil, fmt.Errorf("%w: best distance %.3f above tolerance %.3f", ErrNoMatch, best.Distance, m.baseTolerance)
	}
	if best.Confidence < m.minConfidence {
		return nil, fmt.Errorf("%w: confidence %.2f below minimum %.2f", ErrNoMatch, best.Confidence, m.minConfidence)
	}

	return &Match{Candidate: best, Candidates: candidates}, nil
}

// bestPerEmployee keeps the closest face of each employee, closest first.
func (m *Matcher) bestPerEmployee(matches []database.GalleryMatch) []Candidate {
	seen := make(map[string]int, len(matches))
	var out []Candidate
	for _, gm := range matches {
		c := Candidate{
			EmployeeID: gm.Face.EmployeeID,
			FaceID:     gm.Face.ID,
			Distance:   gm.Distance,
			Confidence: m.Confidence(gm.Distance),
		}
		if i, ok := seen[c.EmployeeID]; ok {
			if c.Distance < out[i].Distance {
				out[i] = c
			}
			continue
		}
		seen[c.EmployeeID] = len(out)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}
