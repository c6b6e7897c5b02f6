// Package enrollment registers employees and their reference faces.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/rh360-attendance/internal/biometric"
	"github.com/kozaktomas/rh360-attendance/internal/constants"
	"github.com/kozaktomas/rh360-attendance/internal/database"
	"github.com/kozaktomas/rh360-attendance/internal/rut"
)

var (
	ErrNameRequired = errors.New("name is required")
	ErrInvalidRUT   = errors.New("RUT is not valid")
	ErrPhotoCount   = errors.New("wrong number of photos")
)

// codeAttempts bounds the search for a free generated employee code.
const codeAttempts = 10

// FaceExtractor detects the main face of a photo. *biometric.EmbeddingClient
// implements it.
type FaceExtractor interface {
	ExtractFace(ctx context.Context, photo []byte) (*biometric.FaceDetection, error)
}

// PhotoError reports which enrollment photo could not be used.
type PhotoError struct {
	Index int // zero based
	Err   error
}

func (e *PhotoError) Error() string {
	return fmt.Sprintf("photo %d: %v", e.Index+1, e.Err)
}

func (e *PhotoError) Unwrap() error {
	return e.Err
}

// Registration is the input of Register. Name and RUT are required.
type Registration struct {
	Name         string
	RUT          string
	EmployeeCode string // generated when empty
	Email        string
	Department   string
	Position     string
}

// Changes lists the profile fields to update; nil fields are kept.
type Changes struct {
	Name       *string
	RUT        *string
	Email      *string
	Department *string
	Position   *string
	Active     *bool
}

// Result describes a completed face enrollment.
type Result struct {
	Employee    *database.Employee `json:"employee"`
	Faces       int                `json:"faces"`
	AvgDetScore float64            `json:"avg_det_score"`
}

// Service implements the employee lifecycle.
type Service struct {
	employees database.EmployeeWriter
	gallery   database.GalleryWriter
	extractor FaceExtractor
	model     string
	minPhotos int
	workers   int
	now       func() time.Time
	progress  func(done, total int)
}

// NewService creates the service. extractor may be nil when no embedding
// server is configured; EnrollFaces then fails.
func NewService(
	employees database.EmployeeWriter,
	gallery database.GalleryWriter,
	extractor FaceExtractor,
	model string,
	minPhotos int,
) *Service {
	return &Service{
		employees: employees,
		gallery:   gallery,
		extractor: extractor,
		model:     model,
		minPhotos: minPhotos,
		workers:   constants.WorkerPoolSize,
		now:       time.Now,
	}
}

// MinPhotos returns how many photos EnrollFaces expects.
func (s *Service) MinPhotos() int {
	return s.minPhotos
}

// OnProgress registers a callback invoked after each processed photo.
func (s *Service) OnProgress(fn func(done, total int)) {
	s.progress = fn
}

// Register creates an active employee with canonical RUT and defaults for
// department and position.
func (s *Service) Register(ctx context.Context, reg Registration) (*database.Employee, error) {
	name := strings.TrimSpace(reg.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	canonical, err := s.canonicalRUT(ctx, reg.RUT, "")
	if err != nil {
		return nil, err
	}

	code := strings.TrimSpace(reg.EmployeeCode)
	if code == "" {
		if code, err = s.generateCode(ctx); err != nil {
			return nil, err
		}
	}

	emp := &database.Employee{
		RUT:          canonical,
		EmployeeCode: code,
		Name:         name,
		Email:        strings.TrimSpace(reg.Email),
		Department:   orDefault(reg.Department, constants.DefaultDepartment),
		Position:     orDefault(reg.Position, constants.DefaultPosition),
		Active:       true,
	}
	if err := s.employees.CreateEmployee(ctx, emp); err != nil {
		return nil, fmt.Errorf("register employee: %w", err)
	}
	log.Printf("Registered employee %s (%s)", emp.EmployeeCode, emp.RUT)
	return emp, nil
}

// canonicalRUT validates raw and checks that no employee other than exceptID
// holds it.
func (s *Service) canonicalRUT(ctx context.Context, raw, exceptID string) (string, error) {
	if !rut.Validate(raw) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRUT, strings.TrimSpace(raw))
	}
	canonical := rut.Canonicalize(raw)
	holder, err := s.employees.GetEmployeeByRUT(ctx, canonical)
	if err != nil {
		return "", fmt.Errorf("lookup RUT: %w", err)
	}
	if holder != nil && holder.ID != exceptID {
		return "", fmt.Errorf("%w: %s", database.ErrDuplicateRUT, canonical)
	}
	return canonical, nil
}

// generateCode returns EMP followed by the current timestamp, stepping one
// second forward while the code is taken.
func (s *Service) generateCode(ctx context.Context) (string, error) {
	at := s.now()
	for range codeAttempts {
		code := constants.EmployeeCodePrefix + at.Format(constants.EmployeeCodeLayout)
		existing, err := s.employees.GetEmployeeByCode(ctx, code)
		if err != nil {
			return "", fmt.Errorf("lookup employee code: %w", err)
		}
		if existing == nil {
			return code, nil
		}
		at = at.Add(time.Second)
	}
	return "", errors.New("no free employee code")
}

// Update applies changes to an employee. A new RUT must be valid and unused.
func (s *Service) Update(ctx context.Context, id string, ch Changes) (*database.Employee, error) {
	emp, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if ch.Name != nil {
		name := strings.TrimSpace(*ch.Name)
		if name == "" {
			return nil, ErrNameRequired
		}
		emp.Name = name
	}
	if ch.RUT != nil {
		canonical, err := s.canonicalRUT(ctx, *ch.RUT, emp.ID)
		if err != nil {
			return nil, err
		}
		emp.RUT = canonical
	}
	if ch.Email != nil {
		emp.Email = strings.TrimSpace(*ch.Email)
	}
	if ch.Department != nil {
		emp.Department = orDefault(*ch.Department, constants.DefaultDepartment)
	}
	if ch.Position != nil {
		emp.Position = orDefault(*ch.Position, constants.DefaultPosition)
	}
	if ch.Active != nil {
		emp.Active = *ch.Active
	}
	emp.UpdatedAt = s.now()

	if err := s.employees.UpdateEmployee(ctx, emp); err != nil {
		return nil, fmt.Errorf("update employee: %w", err)
	}
	return emp, nil
}

// Deactivate marks an employee inactive. Its records and faces are kept but
// it is no longer matched or resolved.
func (s *Service) Deactivate(ctx context.Context, id string) (*database.Employee, error) {
	inactive := false
	return s.Update(ctx, id, Changes{Active: &inactive})
}

// Delete removes an employee with all records and faces.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.employees.DeleteEmployee(ctx, id); err != nil {
		return fmt.Errorf("delete employee: %w", err)
	}
	if s.gallery != nil {
		if err := s.gallery.DeleteEmbeddings(ctx, id); err != nil && !errors.Is(err, database.ErrNotFound) {
			log.Printf("Warning: failed to drop faces of deleted employee %s: %v", id, err)
		}
	}
	log.Printf("Deleted employee %s", id)
	return nil
}

// EnrollFaces replaces the reference faces of an employee. Exactly
// MinPhotos photos are required and each must contain a face.
func (s *Service) EnrollFaces(ctx context.Context, id string, photos [][]byte) (*Result, error) {
	if len(photos) != s.minPhotos {
		return nil, fmt.Errorf("%w: got %d, need exactly %d", ErrPhotoCount, len(photos), s.minPhotos)
	}
	if s.extractor == nil || s.gallery == nil {
		return nil, errors.New("face enrollment is not configured")
	}
	emp, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	detections, err := s.extractAll(ctx, photos)
	if err != nil {
		return nil, err
	}

	faces := make([]database.FaceEmbedding, len(detections))
	var scoreSum float64
	for i, det := range detections {
		faces[i] = database.FaceEmbedding{
			EmployeeID: emp.ID,
			Embedding:  det.Embedding,
			Model:      s.model,
			Dim:        len(det.Embedding),
			DetScore:   det.DetScore,
		}
		scoreSum += det.DetScore
	}

	if err := s.gallery.ReplaceEmbeddings(ctx, emp.ID, faces); err != nil {
		return nil, fmt.Errorf("store faces: %w", err)
	}
	emp.HasFaceRegistered = true
	log.Printf("Enrolled %d faces for employee %s", len(faces), emp.EmployeeCode)

	return &Result{
		Employee:    emp,
		Faces:       len(faces),
		AvgDetScore: scoreSum / float64(len(faces)),
	}, nil
}

// extractAll runs face extraction on a bounded worker pool. The first
// failing photo, by index, is reported.
func (s *Service) extractAll(ctx context.Context, photos [][]byte) ([]*biometric.FaceDetection, error) {
	detections := make([]*biometric.FaceDetection, len(photos))
	errs := make([]error, len(photos))

	workers := s.workers
	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	done := 0

	for i, photo := range photos {
		wg.Add(1)
		go func(i int, photo []byte) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if len(photo) == 0 {
				errs[i] = biometric.ErrEmptyPhoto
			} else {
				detections[i], errs[i] = s.extractor.ExtractFace(ctx, photo)
			}

			if s.progress != nil {
				mu.Lock()
				done++
				s.progress(done, len(photos))
				mu.Unlock()
			}
		}(i, photo)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, &PhotoError{Index: i, Err: err}
		}
	}
	return detections, nil
}

func (s *Service) get(ctx context.Context, id string) (*database.Employee, error) {
	emp, err := s.employees.GetEmployee(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get employee: %w", err)
	}
	if emp == nil {
		return nil, fmt.Errorf("employee %s: %w", id, database.ErrNotFound)
	}
	return emp, nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
