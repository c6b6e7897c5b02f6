package attendance

import (
	"github.com/kozaktomas/rh360-attendance/internal/config"
	"github.com/kozaktomas/rh360-attendance/internal/database"
)

// DuplicatePolicy decides how a channel reports an event blocked by an existing record.
type DuplicatePolicy int

const (
	// PolicyAcceptExisting reports the existing record as a success.
	PolicyAcceptExisting DuplicatePolicy = iota
	// PolicyReject rejects the event and surfaces the existing record.
	PolicyReject
)

func (p DuplicatePolicy) String() string {
	if p == PolicyReject {
		return config.PolicyReject
	}
	return config.PolicyAccept
}

// Policies holds the duplicate policy of every channel.
type Policies struct {
	Facial DuplicatePolicy
	QR     DuplicatePolicy
	Manual DuplicatePolicy
}

func parsePolicy(s string) DuplicatePolicy {
	if s == config.PolicyReject {
		return PolicyReject
	}
	return PolicyAcceptExisting
}

// PoliciesFromConfig reads the per-channel policies.
func PoliciesFromConfig(cfg config.AttendanceConfig) Policies {
	return Policies{
		Facial: parsePolicy(cfg.FacialPolicy),
		QR:     parsePolicy(cfg.QRPolicy),
		Manual: parsePolicy(cfg.ManualPolicy),
	}
}

// For returns the policy of a channel.
func (p Policies) For(method database.VerificationMethod) DuplicatePolicy {
	switch method {
	case database.MethodFacial:
		return p.Facial
	case database.MethodQR:
		return p.QR
	default:
		return p.Manual
	}
}

func (p Policies) status(method database.VerificationMethod) Status {
	if p.For(method) == PolicyReject {
		return StatusRejectedDuplicate
	}
	return StatusSuccessDuplicate
}
