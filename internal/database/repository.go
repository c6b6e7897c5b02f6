package database

import (
	"context"
	"time"
)

// EmployeeReader provides read-only access to employees.
// Lookups return nil, nil when nothing matches.
type EmployeeReader interface {
	// GetEmployee retrieves an employee by internal ID
	GetEmployee(ctx context.Context, id string) (*Employee, error)
	// GetEmployeeByRUT retrieves an employee by canonical RUT (active or not)
	GetEmployeeByRUT(ctx context.Context, rut string) (*Employee, error)
	// GetEmployeeByCode retrieves an employee by internal employee code
	GetEmployeeByCode(ctx context.Context, code string) (*Employee, error)
	// FindEmployeesByName returns active employees whose normalized name contains the fragment
	FindEmployeesByName(ctx context.Context, fragment string) ([]Employee, error)
	// ListEmployees returns employees ordered by name
	ListEmployees(ctx context.Context, activeOnly bool) ([]Employee, error)
}

// EmployeeWriter provides write access to employees.
type EmployeeWriter interface {
	EmployeeReader

	// CreateEmployee inserts a new employee, returns ErrDuplicateRUT on RUT conflict
	CreateEmployee(ctx context.Context, e *Employee) error
	// UpdateEmployee overwrites mutable fields, returns ErrDuplicateRUT on RUT conflict
	UpdateEmployee(ctx context.Context, e *Employee) error
	// DeleteEmployee removes an employee with all records and embeddings
	DeleteEmployee(ctx context.Context, id string) error
}

// RecordReader provides read-only access to attendance records.
type RecordReader interface {
	// FindRecordInWindow returns the earliest record of the employee and type
	// with a timestamp in [from, to], or nil
	FindRecordInWindow(ctx context.Context, employeeID, eventType string, from, to time.Time) (*AttendanceRecord, error)
	// GetRecord retrieves a record by ID
	GetRecord(ctx context.Context, id string) (*AttendanceRecord, error)
	// ListRecords returns records newest first
	ListRecords(ctx context.Context, filter RecordFilter) ([]AttendanceRecord, error)
	// CountRecordsByMethod counts records matching the filter (ignoring Limit) per method
	CountRecordsByMethod(ctx context.Context, filter RecordFilter) (map[VerificationMethod]int, error)
}

// RecordWriter provides write access to attendance records.
type RecordWriter interface {
	RecordReader

	// CreateRecord atomically checks the window [ts-tolerance, ts+tolerance]
	// and inserts the record. Returns *DuplicateRecordError when blocked.
	CreateRecord(ctx context.Context, rec *AttendanceRecord, tolerance time.Duration) error
	// DeleteRecord removes a single record
	DeleteRecord(ctx context.Context, id string) error
}

// GalleryReader provides nearest-neighbour search over enrolled faces.
type GalleryReader interface {
	// FindNearest returns up to limit faces of active employees ordered by distance
	FindNearest(ctx context.Context, embedding []float32, limit int) ([]GalleryMatch, error)
	// CountEmbeddings returns the number of enrolled face vectors
	CountEmbeddings(ctx context.Context) (int, error)
}

// GalleryWriter provides write access to enrolled faces.
type GalleryWriter interface {
	GalleryReader

	// ReplaceEmbeddings swaps all faces of an employee for the given ones
	ReplaceEmbeddings(ctx context.Context, employeeID string, faces []FaceEmbedding) error
	// DeleteEmbeddings removes all faces of an employee
	DeleteEmbeddings(ctx context.Context, employeeID string) error
}
