// Package mock provides in-memory implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/rh360-attendance/internal/database"
	"github.com/kozaktomas/rh360-attendance/internal/facematch"
)

// Store implements EmployeeWriter, RecordWriter and GalleryWriter in memory.
// CreateRecord checks and inserts under one lock, like the PostgreSQL store.
type Store struct {
	mu         sync.RWMutex
	employees  map[string]*database.Employee
	records    map[string]*database.AttendanceRecord
	faces      map[int64]*database.FaceEmbedding
	nextFaceID int64

	// Error injection
	GetEmployeeError    error
	FindByNameError     error
	ListEmployeesError  error
	CreateEmployeeError error
	UpdateEmployeeError error
	DeleteEmployeeError error
	FindWindowError     error
	CreateRecordError   error
	ListRecordsError    error
	DeleteRecordError   error
	GalleryError        error

	// CreateRecordCalls counts CreateRecord invocations.
	CreateRecordCalls int
}

var (
	_ database.EmployeeWriter = (*Store)(nil)
	_ database.RecordWriter   = (*Store)(nil)
	_ database.GalleryWriter  = (*Store)(nil)
)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		employees: make(map[string]*database.Employee),
		records:   make(map[string]*database.AttendanceRecord),
		faces:     make(map[int64]*database.FaceEmbedding),
	}
}

// AddEmployee seeds an employee without uniqueness checks.
func (m *Store) AddEmployee(e database.Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = &e
}

// AddRecord seeds a record without the window check.
func (m *Store) AddRecord(r database.AttendanceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = &r
}

// Records returns all stored records ordered by timestamp.
func (m *Store) Records() []database.AttendanceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.AttendanceRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// GetEmployee retrieves an employee by ID
func (m *Store) GetEmployee(ctx context.Context, id string) (*database.Employee, error) {
	if m.GetEmployeeError != nil {
		return nil, m.GetEmployeeError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.employees[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

// GetEmployeeByRUT retrieves an employee by canonical RUT
func (m *Store) GetEmployeeByRUT(ctx context.Context, rut string) (*database.Employee, error) {
	if m.GetEmployeeError != nil {
		return nil, m.GetEmployeeError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.employees {
		if e.RUT == rut {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

// GetEmployeeByCode retrieves an employee by internal code
func (m *Store) GetEmployeeByCode(ctx context.Context, code string) (*database.Employee, error) {
	if m.GetEmployeeError != nil {
		return nil, m.GetEmployeeError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.employees {
		if e.EmployeeCode == code {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

// FindEmployeesByName returns active employees whose name contains fragment
func (m *Store) FindEmployeesByName(ctx context.Context, fragment string) ([]database.Employee, error) {
	if m.FindByNameError != nil {
		return nil, m.FindByNameError
	}
	needle := facematch.NormalizePersonName(fragment)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.Employee
	for _, e := range m.employees {
		if e.Active && strings.Contains(facematch.NormalizePersonName(e.Name), needle) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListEmployees returns employees ordered by name
func (m *Store) ListEmployees(ctx context.Context, activeOnly bool) ([]database.Employee, error) {
	if m.ListEmployeesError != nil {
		return nil, m.ListEmployeesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.Employee
	for _, e := range m.employees {
		if activeOnly && !e.Active {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Store) rutTaken(rut, exceptID string) bool {
	for _, e := range m.employees {
		if e.RUT == rut && e.ID != exceptID {
			return true
		}
	}
	return false
}

// CreateEmployee inserts an employee
func (m *Store) CreateEmployee(ctx context.Context, e *database.Employee) error {
	if m.CreateEmployeeError != nil {
		return m.CreateEmployeeError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if m.rutTaken(e.RUT, e.ID) {
		return database.ErrDuplicateRUT
	}
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	cp := *e
	m.employees[e.ID] = &cp
	return nil
}

// UpdateEmployee overwrites an employee
func (m *Store) UpdateEmployee(ctx context.Context, e *database.Employee) error {
	if m.UpdateEmployeeError != nil {
		return m.UpdateEmployeeError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.employees[e.ID]; !ok {
		return fmt.Errorf("update employee %s: %w", e.ID, database.ErrNotFound)
	}
	if m.rutTaken(e.RUT, e.ID) {
		return database.ErrDuplicateRUT
	}
	cp := *e
	m.employees[e.ID] = &cp
	return nil
}

// DeleteEmployee removes an employee with its records and faces
func (m *Store) DeleteEmployee(ctx context.Context, id string) error {
	if m.DeleteEmployeeError != nil {
		return m.DeleteEmployeeError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.employees[id]; !ok {
		return fmt.Errorf("delete employee %s: %w", id, database.ErrNotFound)
	}
	delete(m.employees, id)
	for rid, r := range m.records {
		if r.EmployeeID == id {
			delete(m.records, rid)
		}
	}
	for fid, f := range m.faces {
		if f.EmployeeID == id {
			delete(m.faces, fid)
		}
	}
	return nil
}

func (m *Store) findInWindow(employeeID, eventType string, from, to time.Time) *database.AttendanceRecord {
	var found *database.AttendanceRecord
	for _, r := range m.records {
		if r.EmployeeID != employeeID || r.Type != eventType {
			continue
		}
		if r.Timestamp.Before(from) || r.Timestamp.After(to) {
			continue
		}
		if found == nil || r.Timestamp.Before(found.Timestamp) {
			found = r
		}
	}
	return found
}

// FindRecordInWindow returns the earliest record in [from, to]
func (m *Store) FindRecordInWindow(
	ctx context.Context, employeeID, eventType string, from, to time.Time,
) (*database.AttendanceRecord, error) {
	if m.FindWindowError != nil {
		return nil, m.FindWindowError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r := m.findInWindow(employeeID, strings.ToLower(eventType), from, to); r != nil {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

// GetRecord retrieves a record by ID
func (m *Store) GetRecord(ctx context.Context, id string) (*database.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.records[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (m *Store) filtered(filter database.RecordFilter) []database.AttendanceRecord {
	var out []database.AttendanceRecord
	for _, r := range m.records {
		if filter.EmployeeID != "" && r.EmployeeID != filter.EmployeeID {
			continue
		}
		if !filter.Since.IsZero() && r.Timestamp.Before(filter.Since) {
			continue
		}
		cp := *r
		if e, ok := m.employees[r.EmployeeID]; ok {
			cp.EmployeeName = e.Name
			cp.EmployeeRUT = e.RUT
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// ListRecords returns records newest first
func (m *Store) ListRecords(ctx context.Context, filter database.RecordFilter) ([]database.AttendanceRecord, error) {
	if m.ListRecordsError != nil {
		return nil, m.ListRecordsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.filtered(filter)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CountRecordsByMethod counts matching records per method
func (m *Store) CountRecordsByMethod(
	ctx context.Context, filter database.RecordFilter,
) (map[database.VerificationMethod]int, error) {
	if m.ListRecordsError != nil {
		return nil, m.ListRecordsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[database.VerificationMethod]int)
	for _, r := range m.filtered(filter) {
		counts[r.Method]++
	}
	return counts, nil
}

// CreateRecord inserts a record unless one exists in the tolerance window
func (m *Store) CreateRecord(ctx context.Context, rec *database.AttendanceRecord, tolerance time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateRecordCalls++
	if m.CreateRecordError != nil {
		return m.CreateRecordError
	}
	if existing := m.findInWindow(rec.EmployeeID, rec.Type, rec.Timestamp.Add(-tolerance), rec.Timestamp.Add(tolerance)); existing != nil {
		cp := *existing
		return &database.DuplicateRecordError{Existing: &cp}
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

// DeleteRecord removes a record
func (m *Store) DeleteRecord(ctx context.Context, id string) error {
	if m.DeleteRecordError != nil {
		return m.DeleteRecordError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("delete record %s: %w", id, database.ErrNotFound)
	}
	delete(m.records, id)
	return nil
}

// FindNearest scans all faces of active employees
func (m *Store) FindNearest(ctx context.Context, embedding []float32, limit int) ([]database.GalleryMatch, error) {
	if m.GalleryError != nil {
		return nil, m.GalleryError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.GalleryMatch
	for _, f := range m.faces {
		if e, ok := m.employees[f.EmployeeID]; !ok || !e.Active {
			continue
		}
		out = append(out, database.GalleryMatch{Face: *f, Distance: database.CosineDistance(embedding, f.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountEmbeddings returns the number of stored faces
func (m *Store) CountEmbeddings(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.faces), nil
}

// ReplaceEmbeddings swaps the faces of an employee
func (m *Store) ReplaceEmbeddings(ctx context.Context, employeeID string, faces []database.FaceEmbedding) error {
	if m.GalleryError != nil {
		return m.GalleryError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	emp, ok := m.employees[employeeID]
	if !ok {
		return fmt.Errorf("replace embeddings of %s: %w", employeeID, database.ErrNotFound)
	}
	emp.HasFaceRegistered = len(faces) > 0
	for id, f := range m.faces {
		if f.EmployeeID == employeeID {
			delete(m.faces, id)
		}
	}
	for i := range faces {
		m.nextFaceID++
		f := faces[i]
		f.ID = m.nextFaceID
		f.EmployeeID = employeeID
		m.faces[f.ID] = &f
	}
	return nil
}

// DeleteEmbeddings removes the faces of an employee
func (m *Store) DeleteEmbeddings(ctx context.Context, employeeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if emp, ok := m.employees[employeeID]; ok {
		emp.HasFaceRegistered = false
	}
	for id, f := range m.faces {
		if f.EmployeeID == employeeID {
			delete(m.faces, id)
		}
	}
	return nil
}
