// Package legacy imports employees and attendance history from the previous
// deployment's database.
package legacy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/rh360-attendance/internal/attendance"
	"github.com/kozaktomas/rh360-attendance/internal/constants"
	"github.com/kozaktomas/rh360-attendance/internal/database"
	"github.com/kozaktomas/rh360-attendance/internal/database/mariadb"
	"github.com/kozaktomas/rh360-attendance/internal/rut"
)

// maxProblems bounds Summary.Problems.
const maxProblems = 50

// Source provides the legacy rows. *mariadb.Pool implements it.
type Source interface {
	ListEmployees(ctx context.Context) ([]mariadb.LegacyEmployee, error)
	ListRecords(ctx context.Context, since time.Time) ([]mariadb.LegacyRecord, error)
}

// Summary reports what an import did.
type Summary struct {
	EmployeesCreated  int      `json:"employees_created"`
	EmployeesExisting int      `json:"employees_existing"`
	EmployeesSkipped  int      `json:"employees_skipped"`
	RecordsImported   int      `json:"records_imported"`
	RecordsDuplicate  int      `json:"records_duplicate"`
	RecordsSkipped    int      `json:"records_skipped"`
	Problems          []string `json:"problems"`
}

func (s *Summary) problem(format string, args ...any) {
	if len(s.Problems) < maxProblems {
		s.Problems = append(s.Problems, fmt.Sprintf(format, args...))
	}
}

// Importer copies legacy data into the current store.
type Importer struct {
	source    Source
	employees database.EmployeeWriter
	factory   *attendance.RecordFactory
	progress  func(done, total int)
}

// NewImporter creates an importer. Records go through factory so the
// duplicate window and evidence rules apply to imported history as well.
func NewImporter(source Source, employees database.EmployeeWriter, factory *attendance.RecordFactory) *Importer {
	return &Importer{source: source, employees: employees, factory: factory}
}

// OnProgress registers a callback invoked after each imported record.
func (im *Importer) OnProgress(fn func(done, total int)) {
	im.progress = fn
}

// Run imports employees, then records at or after since.
func (im *Importer) Run(ctx context.Context, since time.Time) (*Summary, error) {
	summary := &Summary{Problems: []string{}}

	ids, err := im.importEmployees(ctx, summary)
	if err != nil {
		return summary, err
	}

	records, err := im.source.ListRecords(ctx, since)
	if err != nil {
		return summary, fmt.Errorf("list legacy records: %w", err)
	}

	for i, r := range records {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("import interrupted: %w", err)
		}
		im.importRecord(ctx, r, ids, summary)
		if im.progress != nil {
			im.progress(i+1, len(records))
		}
	}
	return summary, nil
}

// importEmployees maps legacy employee IDs to current employees, creating
// the ones that do not exist yet.
func (im *Importer) importEmployees(ctx context.Context, summary *Summary) (map[int64]*database.Employee, error) {
	legacy, err := im.source.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("list legacy employees: %w", err)
	}

	ids := make(map[int64]*database.Employee, len(legacy))
	for _, le := range legacy {
		if !rut.Validate(le.RUT) {
			summary.EmployeesSkipped++
			summary.problem("employee %d (%s): invalid RUT %q", le.ID, le.Name, le.RUT)
			continue
		}
		canonical := rut.Canonicalize(le.RUT)

		existing, err := im.employees.GetEmployeeByRUT(ctx, canonical)
		if err != nil {
			return nil, fmt.Errorf("lookup employee %s: %w", canonical, err)
		}
		if existing != nil {
			ids[le.ID] = existing
			summary.EmployeesExisting++
			continue
		}

		emp := &database.Employee{
			RUT:          canonical,
			EmployeeCode: le.EmployeeCode,
			Name:         strings.TrimSpace(le.Name),
			Email:        le.Email,
			Department:   orDefault(le.Department, constants.DefaultDepartment),
			Position:     orDefault(le.Position, constants.DefaultPosition),
			Active:       le.Active,
		}
		if emp.EmployeeCode == "" {
			emp.EmployeeCode = fmt.Sprintf("%sL%06d", constants.EmployeeCodePrefix, le.ID)
		}
		if err := im.employees.CreateEmployee(ctx, emp); err != nil {
			if errors.Is(err, database.ErrDuplicateRUT) {
				summary.EmployeesSkipped++
				summary.problem("employee %d (%s): RUT %s already taken", le.ID, le.Name, canonical)
				continue
			}
			return nil, fmt.Errorf("create employee %s: %w", canonical, err)
		}
		ids[le.ID] = emp
		summary.EmployeesCreated++
	}
	return ids, nil
}

func (im *Importer) importRecord(ctx context.Context, r mariadb.LegacyRecord, ids map[int64]*database.Employee, summary *Summary) {
	emp, ok := ids[r.EmployeeID]
	if !ok {
		summary.RecordsSkipped++
		summary.problem("record %d: employee %d was not imported", r.ID, r.EmployeeID)
		return
	}

	method := database.VerificationMethod(strings.ToLower(strings.TrimSpace(r.VerificationMethod)))
	var confidence float64
	switch method {
	case database.MethodFacial:
		if r.FaceConfidence == nil {
			// Without a confidence the facial evidence is incomplete.
			method = database.MethodManual
		} else {
			confidence = *r.FaceConfidence
		}
	case database.MethodQR, database.MethodManual:
	default:
		method = database.MethodManual
	}

	_, err := im.factory.Create(ctx, attendance.Draft{
		Employee:  emp,
		Type:      r.Type,
		Timestamp: r.Timestamp,
		Location: database.Location{
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			Address:   r.Address,
		},
		Method:      method,
		Confidence:  confidence,
		Notes:       r.Notes,
		OfflineSync: r.OfflineSync,
	})
	var dup *database.DuplicateRecordError
	switch {
	case err == nil:
		summary.RecordsImported++
	case errors.As(err, &dup):
		summary.RecordsDuplicate++
	default:
		summary.RecordsSkipped++
		summary.problem("record %d: %v", r.ID, err)
	}
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
