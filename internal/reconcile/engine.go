// Package reconcile replays attendance events captured while a kiosk was offline.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/rh360-attendance/internal/attendance"
	"github.com/kozaktomas/rh360-attendance/internal/biometric"
	"github.com/kozaktomas/rh360-attendance/internal/database"
)

// DefaultMaxReportedFailures bounds Report.Failures when the engine is
// created without a limit.
const DefaultMaxReportedFailures = 10

// QueuedEvent is an event stored on the device while offline.
type QueuedEvent struct {
	LocalID    string            `json:"local_id"`
	Photo      []byte            `json:"-"`
	PhotoData  string            `json:"-"` // base64 or data URL, decoded when processed
	QRData     string            `json:"qr_data,omitempty"`
	Identifier string            `json:"employee_id,omitempty"`
	Name       string            `json:"employee_name,omitempty"`
	Type       string            `json:"type"`
	Timestamp  string            `json:"timestamp"`
	Location   database.Location `json:"location"`
	Notes      string            `json:"notes,omitempty"`
}

// Failure describes one event that could not be stored.
type Failure struct {
	LocalID string            `json:"local_id"`
	Status  attendance.Status `json:"status"`
	Error   string            `json:"error"`
}

// ItemResult is the outcome of one routed event.
type ItemResult struct {
	LocalID  string            `json:"local_id"`
	Status   attendance.Status `json:"status"`
	RecordID string            `json:"record_id,omitempty"`
}

// Report summarizes a reconciliation batch. Results lists every routed event;
// SkippedIDs lists the events that were not attempted and must be resubmitted.
type Report struct {
	Submitted  int          `json:"submitted"`
	Synced     int          `json:"synced_count"`
	Duplicates int          `json:"duplicate_count"`
	Failed     int          `json:"error_count"`
	Skipped    int          `json:"skipped_count"`
	Failures   []Failure    `json:"errors"`
	Results    []ItemResult `json:"results"`
	SkippedIDs []string     `json:"skipped_local_ids"`
}

// Verifier routes a single event. *attendance.Router implements it.
type Verifier interface {
	Verify(ctx context.Context, ev attendance.Event) attendance.Outcome
}

// Engine reconciles batches of queued events.
type Engine struct {
	verifier    Verifier
	maxFailures int
	itemBudget  time.Duration
	progress    func(done, total int)
}

// NewEngine creates an engine. maxFailures <= 0 selects the default.
func NewEngine(verifier Verifier, maxFailures int) *Engine {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxReportedFailures
	}
	return &Engine{verifier: verifier, maxFailures: maxFailures}
}

// OnProgress registers a callback invoked after each processed item.
func (e *Engine) OnProgress(fn func(done, total int)) {
	e.progress = fn
}

// SetItemBudget sets the time one event may need. Reconcile does not start an
// event when less than this remains before the context deadline.
func (e *Engine) SetItemBudget(d time.Duration) {
	e.itemBudget = d
}

// Reconcile processes items sequentially in the given order. A failing item
// never stops the batch. A started item runs to completion even if ctx is
// cancelled meanwhile; once ctx is done, or its deadline leaves no room for
// another item, the remaining items are skipped and listed by local id.
func (e *Engine) Reconcile(ctx context.Context, items []QueuedEvent) Report {
	report := Report{
		Submitted:  len(items),
		Failures:   []Failure{},
		Results:    make([]ItemResult, 0, len(items)),
		SkippedIDs: []string{},
	}
	itemCtx := context.WithoutCancel(ctx)

	for i, item := range items {
		if item.LocalID == "" {
			item.LocalID = uuid.NewString()
		}

		if !e.canStart(ctx) {
			report.Skipped++
			report.SkippedIDs = append(report.SkippedIDs, item.LocalID)
			if e.progress != nil {
				e.progress(i+1, len(items))
			}
			continue
		}

		out := e.process(itemCtx, item)
		result := ItemResult{LocalID: item.LocalID, Status: out.Status}
		if out.Record != nil {
			result.RecordID = out.Record.ID
		}
		report.Results = append(report.Results, result)

		switch {
		case out.Status == attendance.StatusSuccess:
			report.Synced++
		case out.Duplicate():
			report.Duplicates++
		default:
			report.Failed++
			if len(report.Failures) < e.maxFailures {
				report.Failures = append(report.Failures, Failure{
					LocalID: item.LocalID,
					Status:  out.Status,
					Error:   out.Message(),
				})
			}
		}

		if e.progress != nil {
			e.progress(i+1, len(items))
		}
	}

	if report.Failed > 0 {
		log.Printf("reconcile: %d/%d offline events failed", report.Failed, report.Submitted)
	}
	if report.Skipped > 0 {
		log.Printf("reconcile: %d/%d offline events skipped, batch deadline reached", report.Skipped, report.Submitted)
	}
	return report
}

func (e *Engine) canStart(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < e.itemBudget {
		return false
	}
	return true
}

func (e *Engine) process(ctx context.Context, item QueuedEvent) (out attendance.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("reconcile: panic on item %s: %v\n%s", item.LocalID, rec, debug.Stack())
			out = attendance.Outcome{Status: attendance.StatusSystemError, Err: fmt.Errorf("item %s: %v", item.LocalID, rec)}
		}
	}()

	photo := item.Photo
	if len(photo) == 0 && strings.TrimSpace(item.PhotoData) != "" {
		decoded, err := biometric.DecodeDataURL(item.PhotoData)
		if err != nil {
			return attendance.Outcome{
				Status:  attendance.StatusInvalidRequest,
				Channel: database.MethodFacial,
				Err:     fmt.Errorf("%w: %v", attendance.ErrInvalidRequest, err),
			}
		}
		photo = decoded
	}

	notes := strings.TrimSpace(item.Notes)
	if notes == "" && len(photo) == 0 && strings.TrimSpace(item.QRData) == "" {
		notes = attendance.NotesOffline
	}

	return e.verifier.Verify(ctx, attendance.Event{
		Photo:            photo,
		QRData:           item.QRData,
		Identifier:       item.Identifier,
		Name:             item.Name,
		Type:             item.Type,
		Location:         item.Location,
		Notes:            notes,
		OfflineSync:      true,
		OfflineTimestamp: item.Timestamp,
	})
}
