package database

import (
	"errors"
	"fmt"
	"time"
)

// VerificationMethod identifies the channel that produced an attendance record.
type VerificationMethod string

const (
	MethodFacial VerificationMethod = "facial"
	MethodQR     VerificationMethod = "qr"
	MethodManual VerificationMethod = "manual"
)

// Well-known attendance event types. Any lower-cased label is accepted.
const (
	TypeEntrada = "entrada"
	TypeSalida  = "salida"
)

// Employee is a person attendance can be recorded for.
type Employee struct {
	ID                string    `json:"id"`
	RUT               string    `json:"rut"`
	EmployeeCode      string    `json:"employee_id"`
	Name              string    `json:"name"`
	Email             string    `json:"email,omitempty"`
	Department        string    `json:"department"`
	Position          string    `json:"position"`
	Active            bool      `json:"is_active"`
	HasFaceRegistered bool      `json:"has_face_registered"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Location is the optional place an event was captured at.
type Location struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Address   string   `json:"address,omitempty"`
}

// AttendanceRecord is an accepted attendance event. Records are never updated.
type AttendanceRecord struct {
	ID             string             `json:"id"`
	EmployeeID     string             `json:"employee"`
	Type           string             `json:"attendance_type"`
	Timestamp      time.Time          `json:"timestamp"`
	Location       Location           `json:"location"`
	Method         VerificationMethod `json:"verification_method"`
	FaceConfidence *float64           `json:"face_confidence,omitempty"`
	QRVerified     *bool              `json:"qr_verified,omitempty"`
	Notes          string             `json:"notes"`
	OfflineSync    bool               `json:"is_offline_sync"`
	CreatedAt      time.Time          `json:"created_at"`

	// Populated by list queries joining the employee table.
	EmployeeName string `json:"employee_name,omitempty"`
	EmployeeRUT  string `json:"employee_rut,omitempty"`
}

// FaceEmbedding is one enrolled face vector of an employee.
type FaceEmbedding struct {
	ID         int64     `json:"id"`
	EmployeeID string    `json:"employee_id"`
	Embedding  []float32 `json:"-"`
	Model      string    `json:"model"`
	Dim        int       `json:"dim"`
	DetScore   float64   `json:"det_score"`
	CreatedAt  time.Time `json:"created_at"`
}

// GalleryMatch is a gallery entry together with its distance to a query.
type GalleryMatch struct {
	Face     FaceEmbedding
	Distance float64
}

// RecordFilter narrows ListRecords results.
type RecordFilter struct {
	EmployeeID string
	Since      time.Time // zero means no lower bound
	Limit      int       // zero means unlimited
}

var (
	// ErrDuplicateRUT is returned when another employee already holds the RUT.
	ErrDuplicateRUT = errors.New("employee with this RUT already exists")
	// ErrDuplicateRecord is returned when a record already exists inside the dedup window.
	ErrDuplicateRecord = errors.New("attendance record already exists in window")
	// ErrNotFound is returned by write operations targeting a missing row.
	ErrNotFound = errors.New("not found")
)

// DuplicateRecordError carries the record that blocked a create.
type DuplicateRecordError struct {
	Existing *AttendanceRecord
}

func (e *DuplicateRecordError) Error() string {
	return fmt.Sprintf("%s: %s at %s", ErrDuplicateRecord, e.Existing.Type, e.Existing.Timestamp.Format(time.RFC3339))
}

func (e *DuplicateRecordError) Unwrap() error {
	return ErrDuplicateRecord
}
