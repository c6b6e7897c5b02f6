package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/rh360-attendance/internal/database"
)

// Default notes per channel.
const (
	NotesManual  = "Registro manual/GPS"
	NotesOffline = "Sincronizado offline"
)

// Naive layouts accepted for offline timestamps, interpreted in the configured zone.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO 8601 timestamp. Values with a zone ("Z" or
// an offset) keep it; naive values are placed in loc.
func ParseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// ResolveTimestamp returns the event time: the submitted timestamp for
// offline-synced events when it parses, now otherwise.
func ResolveTimestamp(offline bool, raw string, now time.Time, loc *time.Location) time.Time {
	if !offline || strings.TrimSpace(raw) == "" {
		return now
	}
	t, err := ParseTimestamp(raw, loc)
	if err != nil {
		return now
	}
	return t
}

// Draft describes a record about to be created.
type Draft struct {
	Employee    *database.Employee
	Type        string
	Timestamp   time.Time
	Location    database.Location
	Method      database.VerificationMethod
	Confidence  float64 // facial only
	Notes       string
	OfflineSync bool
}

// RecordFactory builds and stores attendance records.
type RecordFactory struct {
	records   database.RecordWriter
	tolerance time.Duration
	loc       *time.Location
	now       func() time.Time
}

// NewRecordFactory creates a factory. tolerance is forwarded to the store,
// which re-checks the window atomically with the insert.
func NewRecordFactory(records database.RecordWriter, tolerance time.Duration, loc *time.Location) *RecordFactory {
	if loc == nil {
		loc = time.UTC
	}
	return &RecordFactory{records: records, tolerance: tolerance, loc: loc, now: time.Now}
}

// ResolveTimestamp applies ResolveTimestamp with the factory's clock and zone.
func (f *RecordFactory) ResolveTimestamp(offline bool, raw string) time.Time {
	return ResolveTimestamp(offline, raw, f.now().In(f.loc), f.loc)
}

// Build constructs the record for d without storing it.
func (f *RecordFactory) Build(d Draft) *database.AttendanceRecord {
	rec := &database.AttendanceRecord{
		ID:          uuid.NewString(),
		EmployeeID:  d.Employee.ID,
		Type:        NormalizeType(d.Type),
		Timestamp:   d.Timestamp,
		Location:    d.Location,
		Method:      d.Method,
		Notes:       strings.TrimSpace(d.Notes),
		OfflineSync: d.OfflineSync,
		CreatedAt:   f.now(),
	}

	switch d.Method {
	case database.MethodFacial:
		confidence := d.Confidence
		rec.FaceConfidence = &confidence
		if rec.Notes == "" {
			rec.Notes = fmt.Sprintf("Reconocimiento facial - Confianza: %.1f%%", confidence*100)
		}
	case database.MethodQR:
		verified := true
		rec.QRVerified = &verified
		if rec.Notes == "" {
			rec.Notes = "Verificación QR exitosa - RUT: " + d.Employee.RUT
		}
	default:
		if rec.Notes == "" {
			rec.Notes = NotesManual
		}
	}
	return rec
}

// Create stores one record. When the store finds a record inside the window
// the returned error is a *database.DuplicateRecordError.
func (f *RecordFactory) Create(ctx context.Context, d Draft) (*database.AttendanceRecord, error) {
	if d.Employee == nil {
		return nil, errors.New("record draft without employee")
	}
	rec := f.Build(d)
	if err := f.records.CreateRecord(ctx, rec, f.tolerance); err != nil {
		return nil, fmt.Errorf("create attendance record: %w", err)
	}
	return rec, nil
}
