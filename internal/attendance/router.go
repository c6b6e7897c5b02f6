package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"github.com/kozaktomas/rh360-attendance/internal/config"
	"github.com/kozaktomas/rh360-attendance/internal/database"
	"github.com/kozaktomas/rh360-attendance/internal/facematch"
	"github.com/kozaktomas/rh360-attendance/internal/qrpayload"
	"github.com/kozaktomas/rh360-attendance/internal/rut"
)

// Event is an attendance submission. The channel is chosen by which
// payload is present: Photo, then QRData, then Identifier or Name.
type Event struct {
	Photo            []byte
	QRData           string
	Identifier       string // RUT or internal employee code
	Name             string
	Type             string
	Location         database.Location
	Notes            string
	OfflineSync      bool
	OfflineTimestamp string
}

// FaceMatcher identifies the employee in a photo.
type FaceMatcher interface {
	Match(ctx context.Context, photo []byte) (*facematch.Match, error)
}

// Router resolves the employee of an event and creates its record.
type Router struct {
	employees database.EmployeeReader
	matcher   FaceMatcher
	guard     *DedupGuard
	factory   *RecordFactory
	policies  Policies
	locks     *keyedMutex
}

// NewRouter wires the router. matcher may be nil when no embedding server
// is configured; facial events then fail with a system error.
func NewRouter(
	employees database.EmployeeReader,
	records database.RecordWriter,
	matcher FaceMatcher,
	cfg config.AttendanceConfig,
) *Router {
	return &Router{
		employees: employees,
		matcher:   matcher,
		guard:     NewDedupGuard(records, cfg.DuplicateTolerance),
		factory:   NewRecordFactory(records, cfg.DuplicateTolerance, cfg.Location),
		policies:  PoliciesFromConfig(cfg),
		locks:     newKeyedMutex(),
	}
}

// Guard returns the deduplication guard used by the router.
func (r *Router) Guard() *DedupGuard {
	return r.guard
}

// Factory returns the record factory used by the router.
func (r *Router) Factory() *RecordFactory {
	return r.factory
}

// Policies returns the per-channel duplicate policies.
func (r *Router) Policies() Policies {
	return r.policies
}

// Verify dispatches ev to the channel selected by its payload.
func (r *Router) Verify(ctx context.Context, ev Event) Outcome {
	switch {
	case len(ev.Photo) > 0:
		return r.VerifyFacial(ctx, ev)
	case strings.TrimSpace(ev.QRData) != "":
		return r.VerifyQR(ctx, ev)
	default:
		return r.VerifyManual(ctx, ev)
	}
}

// VerifyFacial identifies the employee by face.
func (r *Router) VerifyFacial(ctx context.Context, ev Event) Outcome {
	return r.protect(database.MethodFacial, func() Outcome {
		if len(ev.Photo) == 0 {
			return failed(database.MethodFacial, fmt.Errorf("%w: photo is required", ErrInvalidRequest))
		}
		if r.matcher == nil {
			return failed(database.MethodFacial, errors.New("face matching is not configured"))
		}

		match, err := r.matcher.Match(ctx, ev.Photo)
		if err != nil {
			return failed(database.MethodFacial, err)
		}

		emp, err := r.employees.GetEmployee(ctx, match.EmployeeID)
		if err != nil {
			return failed(database.MethodFacial, fmt.Errorf("load matched employee: %w", err))
		}
		if emp == nil || !emp.Active {
			return failed(database.MethodFacial, fmt.Errorf("%w: matched employee %s", ErrNotFound, match.EmployeeID))
		}

		out := r.commit(ctx, emp, ev, database.MethodFacial, match.Confidence)
		out.Match = match
		return out
	})
}

// VerifyQR identifies the employee by the RUT encoded in a QR code.
func (r *Router) VerifyQR(ctx context.Context, ev Event) Outcome {
	return r.protect(database.MethodQR, func() Outcome {
		if strings.TrimSpace(ev.QRData) == "" {
			return failed(database.MethodQR, fmt.Errorf("%w: QR data is required", ErrInvalidRequest))
		}

		res, err := qrpayload.Extract(ev.QRData)
		if err != nil {
			return failed(database.MethodQR, err)
		}
		if !res.Valid {
			out := failed(database.MethodQR, fmt.Errorf("%w: %s", ErrInvalidIdentity, res.RUT))
			out.RUT = res.RUT
			return out
		}

		emp, err := r.activeByRUT(ctx, res.RUT)
		if err != nil {
			out := failed(database.MethodQR, err)
			out.RUT = res.RUT
			return out
		}

		out := r.commit(ctx, emp, ev, database.MethodQR, 0)
		out.RUT = res.RUT
		return out
	})
}

// VerifyManual identifies the employee by RUT, employee code or name.
func (r *Router) VerifyManual(ctx context.Context, ev Event) Outcome {
	return r.protect(database.MethodManual, func() Outcome {
		emp, err := r.resolveManual(ctx, strings.TrimSpace(ev.Identifier), strings.TrimSpace(ev.Name))
		if err != nil {
			return failed(database.MethodManual, err)
		}
		return r.commit(ctx, emp, ev, database.MethodManual, 0)
	})
}

func (r *Router) activeByRUT(ctx context.Context, canonical string) (*database.Employee, error) {
	emp, err := r.employees.GetEmployeeByRUT(ctx, canonical)
	if err != nil {
		return nil, fmt.Errorf("lookup employee by RUT: %w", err)
	}
	if emp == nil || !emp.Active {
		return nil, fmt.Errorf("%w: RUT %s", ErrNotFound, canonical)
	}
	return emp, nil
}

func (r *Router) resolveManual(ctx context.Context, identifier, name string) (*database.Employee, error) {
	if identifier == "" && name == "" {
		return nil, fmt.Errorf("%w: employee_id or employee_name is required", ErrInvalidRequest)
	}

	if identifier != "" {
		if rut.Validate(identifier) {
			emp, err := r.activeByRUT(ctx, rut.Canonicalize(identifier))
			if err == nil {
				return emp, nil
			}
			if !errors.Is(err, ErrNotFound) {
				return nil, err
			}
		}

		emp, err := r.employees.GetEmployeeByCode(ctx, identifier)
		if err != nil {
			return nil, fmt.Errorf("lookup employee by code: %w", err)
		}
		if emp != nil && emp.Active {
			return emp, nil
		}
	}

	if name != "" {
		matches, err := r.employees.FindEmployeesByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("lookup employee by name: %w", err)
		}
		switch len(matches) {
		case 0:
			return nil, fmt.Errorf("%w: name %q", ErrNotFound, name)
		case 1:
			return &matches[0], nil
		default:
			return nil, fmt.Errorf("%w: %d employees match %q", ErrAmbiguous, len(matches), name)
		}
	}

	if looksLikeRUT(identifier) && !rut.Validate(identifier) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidIdentity, rut.Canonicalize(identifier))
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, identifier)
}

// looksLikeRUT reports whether s has the shape of a RUT, ignoring its check digit.
func looksLikeRUT(s string) bool {
	clean := rut.Clean(s)
	if len(clean) < 8 || len(clean) > 9 || strings.ContainsRune(clean[:len(clean)-1], 'K') {
		return false
	}
	return strings.IndexFunc(s, func(c rune) bool {
		return !strings.ContainsRune("0123456789kK.- ", c)
	}) == -1
}

// commit runs the duplicate check and the record creation for a resolved
// employee while holding the lock of (employee, event type).
func (r *Router) commit(
	ctx context.Context, emp *database.Employee, ev Event, method database.VerificationMethod, confidence float64,
) Outcome {
	eventType := NormalizeType(ev.Type)
	at := r.factory.ResolveTimestamp(ev.OfflineSync, ev.OfflineTimestamp)

	unlock := r.locks.Lock(emp.ID + ":" + eventType)
	defer unlock()

	existing, err := r.guard.FindExisting(ctx, emp.ID, eventType, at)
	if err != nil {
		return Outcome{Status: StatusSystemError, Channel: method, Employee: emp, Err: err}
	}
	if existing != nil {
		return r.duplicate(method, emp, existing)
	}

	if err := ctx.Err(); err != nil {
		return Outcome{Status: statusFor(err), Channel: method, Employee: emp, Err: fmt.Errorf("request ended before record creation: %w", err)}
	}

	rec, err := r.factory.Create(context.WithoutCancel(ctx), Draft{
		Employee:    emp,
		Type:        eventType,
		Timestamp:   at,
		Location:    ev.Location,
		Method:      method,
		Confidence:  confidence,
		Notes:       ev.Notes,
		OfflineSync: ev.OfflineSync,
	})
	if err != nil {
		var dup *database.DuplicateRecordError
		if errors.As(err, &dup) {
			return r.duplicate(method, emp, dup.Existing)
		}
		return Outcome{Status: StatusSystemError, Channel: method, Employee: emp, Err: err}
	}

	log.Printf("attendance: %s %s for %s (%s)", method, rec.Type, emp.RUT, rec.Timestamp.Format(time.RFC3339))
	return Outcome{Status: StatusSuccess, Channel: method, Employee: emp, Record: rec}
}

func (r *Router) duplicate(method database.VerificationMethod, emp *database.Employee, existing *database.AttendanceRecord) Outcome {
	status := r.policies.status(method)
	out := Outcome{Status: status, Channel: method, Employee: emp, Record: existing}
	if status == StatusRejectedDuplicate {
		out.Err = fmt.Errorf("a %s record for %s already exists at %s", existing.Type, emp.Name, existing.Timestamp.Format(time.RFC3339))
	}
	return out
}

// protect turns panics in collaborators into system errors.
func (r *Router) protect(method database.VerificationMethod, fn func() Outcome) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("attendance: panic in %s verification: %v\n%s", method, rec, debug.Stack())
			out = Outcome{Status: StatusSystemError, Channel: method, Err: fmt.Errorf("%s verification failed: %v", method, rec)}
		}
	}()
	return fn()
}
