// Package attendance decides whether an attendance event is accepted and
// creates at most one record per employee, event type and tolerance window.
package attendance

import (
	"context"
	"errors"

	"github.com/kozaktomas/rh360-attendance/internal/database"
	"github.com/kozaktomas/rh360-attendance/internal/facematch"
	"github.com/kozaktomas/rh360-attendance/internal/qrpayload"
)

// Status is the tagged result of a verification attempt.
type Status string

const (
	StatusSuccess           Status = "success"
	StatusSuccessDuplicate  Status = "success_duplicate"
	StatusRejectedDuplicate Status = "rejected_duplicate"
	StatusNotFound          Status = "not_found"
	StatusAmbiguous         Status = "ambiguous"
	StatusInvalidIdentity   Status = "invalid_identity"
	StatusNoIdentity        Status = "no_identity"
	StatusNoMatch           Status = "no_match"
	StatusTimeout           Status = "timeout"
	StatusInvalidRequest    Status = "invalid_request"
	StatusSystemError       Status = "system_error"
)

var (
	ErrInvalidIdentity = errors.New("RUT check digit is not valid")
	ErrNoIdentity      = qrpayload.ErrNoIdentity
	ErrNotFound        = errors.New("employee not found")
	ErrAmbiguous       = errors.New("multiple employees match, specify the RUT")
	ErrNoMatch         = facematch.ErrNoMatch
	ErrTimeout         = facematch.ErrTimeout
	ErrInvalidRequest  = errors.New("invalid request")
)

// Outcome is returned by every verification entry point.
type Outcome struct {
	Status   Status                      `json:"status"`
	Channel  database.VerificationMethod `json:"channel"`
	Employee *database.Employee          `json:"employee,omitempty"`
	// Record is the created record, or the existing one for duplicates.
	Record *database.AttendanceRecord `json:"record,omitempty"`
	Match  *facematch.Match           `json:"match,omitempty"`
	RUT    string                     `json:"rut,omitempty"`
	Err    error                      `json:"-"`
}

// Accepted reports whether the event is satisfied, by a new or an existing record.
func (o Outcome) Accepted() bool {
	return o.Status == StatusSuccess || o.Status == StatusSuccessDuplicate
}

// Duplicate reports whether an existing record blocked the event.
func (o Outcome) Duplicate() bool {
	return o.Status == StatusSuccessDuplicate || o.Status == StatusRejectedDuplicate
}

// Message is a human readable cause for failed outcomes.
func (o Outcome) Message() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return string(o.Status)
}

// statusFor classifies an error returned while resolving an employee.
func statusFor(err error) Status {
	switch {
	case errors.Is(err, ErrInvalidIdentity):
		return StatusInvalidIdentity
	case errors.Is(err, ErrNoIdentity):
		return StatusNoIdentity
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	case errors.Is(err, ErrAmbiguous):
		return StatusAmbiguous
	case errors.Is(err, ErrNoMatch), errors.Is(err, facematch.ErrNoFace):
		return StatusNoMatch
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	case errors.Is(err, ErrInvalidRequest):
		return StatusInvalidRequest
	default:
		return StatusSystemError
	}
}

func failed(channel database.VerificationMethod, err error) Outcome {
	return Outcome{Status: statusFor(err), Channel: channel, Err: err}
}
