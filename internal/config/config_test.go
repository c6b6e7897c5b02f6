package config

import (
	"testing"
	"time"
)

func TestEnvInt(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		defVal int
		want   int
	}{
		{"unset uses default", "", 25, 25},
		{"valid positive", "10", 25, 10},
		{"zero uses default", "0", 25, 25},
		{"negative uses default", "-5", 25, 25},
		{"non-numeric uses default", "abc", 25, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_INT", tt.value)
			if got := envInt("TEST_ENV_INT", tt.defVal); got != tt.want {
				t.Errorf("envInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEnvDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 5 * time.Minute},
		{"90s", 90 * time.Second},
		{"0s", 5 * time.Minute},
		{"soon", 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_ENV_DURATION", tt.value)
			if got := envDuration("TEST_ENV_DURATION", 5*time.Minute); got != tt.want {
				t.Errorf("envDuration(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestEnvPolicy(t *testing.T) {
	t.Setenv("TEST_POLICY", " Reject ")
	if got := envPolicy("TEST_POLICY", PolicyAccept); got != PolicyReject {
		t.Errorf("envPolicy = %q, want reject", got)
	}
	t.Setenv("TEST_POLICY", "ignore")
	if got := envPolicy("TEST_POLICY", PolicyAccept); got != PolicyAccept {
		t.Errorf("envPolicy = %q, want accept", got)
	}
}

func TestLoadProfiles(t *testing.T) {
	profiles := LoadProfiles()
	for _, name := range []string{"balanced", "strict", "lenient"} {
		if _, ok := profiles.Profiles[name]; !ok {
			t.Errorf("profile %q missing from embedded defaults", name)
		}
	}

	balanced := profiles.Profiles["balanced"]
	if balanced.VerificationTimeout != 12*time.Second {
		t.Errorf("balanced timeout = %v, want 12s", balanced.VerificationTimeout)
	}
	if balanced.DuplicateTolerance != 5*time.Minute {
		t.Errorf("balanced duplicate tolerance = %v, want 5m", balanced.DuplicateTolerance)
	}
	if balanced.MinPhotos != 5 {
		t.Errorf("balanced min photos = %d, want 5", balanced.MinPhotos)
	}
}

func TestLoadProfiles_ConfidenceGateReachable(t *testing.T) {
	for name, prof := range LoadProfiles().Profiles {
		if prof.ToleranceCeiling <= 0 {
			t.Errorf("profile %q has no tolerance_ceiling", name)
			continue
		}
		// A face at the edge of the distance tolerance must fail the confidence gate.
		atTolerance := 1 - prof.BaseTolerance/prof.ToleranceCeiling
		if atTolerance >= prof.MinConfidence {
			t.Errorf("profile %q: confidence %.3f at base_tolerance %.2f already meets min_confidence %.2f",
				name, atTolerance, prof.BaseTolerance, prof.MinConfidence)
		}
	}
}

func TestLoadAttendance_Defaults(t *testing.T) {
	t.Setenv("ATTENDANCE_PROFILE", "")
	t.Setenv("FACE_MIN_CONFIDENCE", "")
	t.Setenv("FACE_TOLERANCE_CEILING", "")
	t.Setenv("ATTENDANCE_TIMEZONE", "")

	cfg := LoadAttendance(LoadProfiles())

	if cfg.Profile != DefaultProfile {
		t.Errorf("Profile = %q, want %q", cfg.Profile, DefaultProfile)
	}
	if cfg.ToleranceCeiling != 0.9 {
		t.Errorf("ToleranceCeiling = %v, want balanced profile 0.9", cfg.ToleranceCeiling)
	}
	if cfg.MaxReportedFailures != 10 {
		t.Errorf("MaxReportedFailures = %d, want 10", cfg.MaxReportedFailures)
	}
	if cfg.FacialPolicy != PolicyAccept || cfg.QRPolicy != PolicyReject || cfg.ManualPolicy != PolicyAccept {
		t.Errorf("unexpected policies: %q %q %q", cfg.FacialPolicy, cfg.QRPolicy, cfg.ManualPolicy)
	}
	if cfg.Location == nil || cfg.Location.String() != DefaultTimeZone {
		t.Errorf("Location = %v, want %s", cfg.Location, DefaultTimeZone)
	}
}

func TestLoadAttendance_Overrides(t *testing.T) {
	t.Setenv("ATTENDANCE_PROFILE", "strict")
	t.Setenv("FACE_MIN_CONFIDENCE", "0.9")
	t.Setenv("ATTENDANCE_TIMEZONE", "Not/AZone")

	cfg := LoadAttendance(LoadProfiles())

	if cfg.Profile != "strict" {
		t.Errorf("Profile = %q, want strict", cfg.Profile)
	}
	if cfg.MinConfidence != 0.9 {
		t.Errorf("MinConfidence = %v, want 0.9", cfg.MinConfidence)
	}
	if cfg.BaseTolerance != 0.4 {
		t.Errorf("BaseTolerance = %v, want strict profile 0.4", cfg.BaseTolerance)
	}
	if cfg.Location != time.UTC {
		t.Errorf("Location = %v, want UTC fallback", cfg.Location)
	}
}

func TestProfile_UnknownFallsBack(t *testing.T) {
	name, prof := LoadProfiles().Profile("paranoid")
	if name != DefaultProfile {
		t.Errorf("name = %q, want %q", name, DefaultProfile)
	}
	if prof.MinPhotos == 0 {
		t.Error("expected default profile values")
	}
}
