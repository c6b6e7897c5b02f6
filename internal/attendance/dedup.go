package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/rh360-attendance/internal/database"
)

// DedupGuard looks for records that make a new event a duplicate.
type DedupGuard struct {
	records   database.RecordReader
	tolerance time.Duration
}

// NewDedupGuard creates a guard with a window of ±tolerance.
func NewDedupGuard(records database.RecordReader, tolerance time.Duration) *DedupGuard {
	return &DedupGuard{records: records, tolerance: tolerance}
}

// Tolerance returns the half-width of the window.
func (g *DedupGuard) Tolerance() time.Duration {
	return g.tolerance
}

// Window returns the closed interval checked around at.
func (g *DedupGuard) Window(at time.Time) (time.Time, time.Time) {
	return at.Add(-g.tolerance), at.Add(g.tolerance)
}

// FindExisting returns the first record of the employee and event type
// inside [at-tolerance, at+tolerance], or nil.
func (g *DedupGuard) FindExisting(ctx context.Context, employeeID, eventType string, at time.Time) (*database.AttendanceRecord, error) {
	from, to := g.Window(at)
	rec, err := g.records.FindRecordInWindow(ctx, employeeID, NormalizeType(eventType), from, to)
	if err != nil {
		return nil, fmt.Errorf("check duplicate attendance: %w", err)
	}
	return rec, nil
}

// NormalizeType lower-cases an event type, defaulting to entrada.
func NormalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return database.TypeEntrada
	}
	return t
}
