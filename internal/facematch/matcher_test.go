package facematch

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kozaktomas/rh360-attendance/internal/config"
	"github.com/kozaktomas/rh360-attendance/internal/database"
)

type fakeExtractor struct {
	embedding []float32
	err       error
	delay     time.Duration
}

func (f *fakeExtractor) ExtractEmbedding(ctx context.Context, photo []byte) ([]float32, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.embedding, f.err
}

type fakeGallery struct {
	matches []database.GalleryMatch
	err     error
	calls   int
}

func (f *fakeGallery) FindNearest(ctx context.Context, embedding []float32, limit int) ([]database.GalleryMatch, error) {
	f.calls++
	return f.matches, f.err
}

func gm(employeeID string, faceID int64, distance float64) database.GalleryMatch {
	return database.GalleryMatch{
		Face:     database.FaceEmbedding{ID: faceID, EmployeeID: employeeID},
		Distance: distance,
	}
}

func testConfig() config.AttendanceConfig {
	return config.AttendanceConfig{
		BaseTolerance:       0.5,
		MinConfidence:       0.5,
		ToleranceCeiling:    1.0,
		VerificationTimeout: time.Second,
	}
}

func TestMatch_BestPerEmployee(t *testing.T) {
	gallery := &fakeGallery{matches: []database.GalleryMatch{
		gm("bruno", 3, 0.35),
		gm("ana", 1, 0.30),
		gm("ana", 2, 0.20),
		gm("carla", 4, 0.45),
	}}
	m := NewMatcher(&fakeExtractor{embedding: []float32{1}}, gallery, testConfig())

	match, err := m.Match(context.Background(), []byte("photo"))
	if err != nil {
		t.Fatalf("Match error: %v", err)
	}
	if match.EmployeeID != "ana" || match.FaceID != 2 {
		t.Errorf("best = %s/%d, want ana/2", match.EmployeeID, match.FaceID)
	}
	if math.Abs(match.Confidence-0.8) > 1e-9 {
		t.Errorf("Confidence = %f, want 0.8", match.Confidence)
	}
	if len(match.Candidates) != 3 {
		t.Fatalf("Candidates = %d, want 3", len(match.Candidates))
	}
	if match.Candidates[1].EmployeeID != "bruno" || match.Candidates[2].EmployeeID != "carla" {
		t.Errorf("candidates not ordered by distance: %+v", match.Candidates)
	}
}

func TestMatch_AboveTolerance(t *testing.T) {
	gallery := &fakeGallery{matches: []database.GalleryMatch{gm("ana", 1, 0.55)}}
	m := NewMatcher(&fakeExtractor{embedding: []float32{1}}, gallery, testConfig())

	_, err := m.Match(context.Background(), []byte("photo"))
	if !errors.Is(err, ErrNoMatch) {
		t.Errorf("error = %v, want ErrNoMatch", err)
	}
}

func TestMatch_WithinToleranceButLowConfidence(t *testing.T) {
	cfg := testConfig()
	cfg.MinConfidence = 0.7
	gallery := &fakeGallery{matches: []database.GalleryMatch{gm("ana", 1, 0.4)}}
	m := NewMatcher(&fakeExtractor{embedding: []float32{1}}, gallery, cfg)

	match, err := m.Match(context.Background(), []byte("photo"))
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("error = %v, want ErrNoMatch", err)
	}
	if match != nil {
		t.Errorf("expected no match, got %+v", match)
	}
}

func TestMatch_EmptyGallery(t *testing.T) {
	m := NewMatcher(&fakeExtractor{embedding: []float32{1}}, &fakeGallery{}, testConfig())
	if _, err := m.Match(context.Background(), []byte("photo")); !errors.Is(err, ErrNoMatch) {
		t.Errorf("error = %v, want ErrNoMatch", err)
	}
}

func TestMatch_NoFace(t *testing.T) {
	gallery := &fakeGallery{}
	m := NewMatcher(&fakeExtractor{err: ErrNoFace}, gallery, testConfig())

	_, err := m.Match(context.Background(), []byte("photo"))
	if !errors.Is(err, ErrNoFace) {
		t.Errorf("error = %v, want ErrNoFace", err)
	}
	if gallery.calls != 0 {
		t.Error("gallery should not be searched without an embedding")
	}
}

func TestMatch_GalleryError(t *testing.T) {
	boom := errors.New("connection reset")
	m := NewMatcher(&fakeExtractor{embedding: []float32{1}}, &fakeGallery{err: boom}, testConfig())

	_, err := m.Match(context.Background(), []byte("photo"))
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped gallery error", err)
	}
}

func TestMatch_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.VerificationTimeout = 20 * time.Millisecond
	gallery := &fakeGallery{matches: []database.GalleryMatch{gm("ana", 1, 0.1)}}
	m := NewMatcher(&fakeExtractor{embedding: []float32{1}, delay: time.Second}, gallery, cfg)

	start := time.Now()
	_, err := m.Match(context.Background(), []byte("photo"))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Match blocked for %v", elapsed)
	}
}

func TestMatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMatcher(&fakeExtractor{embedding: []float32{1}, delay: time.Second}, &fakeGallery{}, testConfig())

	_, err := m.Match(ctx, []byte("photo"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestConfidence(t *testing.T) {
	m := NewMatcher(nil, nil, config.AttendanceConfig{ToleranceCeiling: 0.8})
	tests := []struct {
		distance float64
		want     float64
	}{
		{0, 1},
		{0.4, 0.5},
		{0.8, 0},
		{1.5, 0},
		{-0.1, 1},
	}
	for _, tt := range tests {
		if got := m.Confidence(tt.distance); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Confidence(%v) = %v, want %v", tt.distance, got, tt.want)
		}
	}
}
