package config

import (
	"cmp"
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // attendance zone must resolve on minimal images

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// DefaultProfile is used when ATTENDANCE_PROFILE is unset or unknown.
const DefaultProfile = "balanced"

// DefaultTimeZone is the zone naive offline timestamps are interpreted in.
const DefaultTimeZone = "America/Santiago"

// Duplicate policies per verification channel.
const (
	PolicyAccept = "accept" // report the existing record as success
	PolicyReject = "reject" // reject the event and surface the existing record
)

type Config struct {
	Database   DatabaseConfig
	Legacy     LegacyConfig
	Embedding  EmbeddingConfig
	Attendance AttendanceConfig
	Web        WebConfig
	Profiles   ProfilesConfig
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist the face gallery index (optional)
}

// LegacyConfig points at the MySQL database of the previous deployment.
type LegacyConfig struct {
	DatabaseURL string // e.g. rh360:secret@tcp(mysql:3306)/rh360?parseTime=true
}

type EmbeddingConfig struct {
	URL   string // defaults to http://localhost:8000
	Dim   int    // defaults to 512
	Model string // label stored with enrolled faces
}

type WebConfig struct {
	AdminSecret    string // HMAC secret for admin bearer tokens
	AllowedOrigins string // comma-separated CORS origins, "*" allows any
}

// AttendanceConfig holds the verification and deduplication parameters.
// It is built once at startup and passed by value to each component.
type AttendanceConfig struct {
	Profile             string
	DuplicateTolerance  time.Duration // half-width of the dedup window
	BaseTolerance       float64       // maximum accepted face distance
	MinConfidence       float64       // minimum accepted match confidence
	ToleranceCeiling    float64       // distance mapped to zero confidence
	VerificationTimeout time.Duration
	MinPhotos           int // photos required for face enrollment
	MaxReportedFailures int // failure diagnostics kept per sync report
	Location            *time.Location
	FacialPolicy        string
	QRPolicy            string
	ManualPolicy        string
}

type ProfilesConfig struct {
	Profiles map[string]VerificationProfile `yaml:"profiles"`
}

type VerificationProfile struct {
	BaseTolerance       float64       `yaml:"base_tolerance"`
	MinConfidence       float64       `yaml:"min_confidence"`
	ToleranceCeiling    float64       `yaml:"tolerance_ceiling"`
	VerificationTimeout time.Duration `yaml:"verification_timeout"`
	MinPhotos           int           `yaml:"min_photos"`
	DuplicateTolerance  time.Duration `yaml:"duplicate_tolerance"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a non-negative float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envDuration reads a positive Go duration ("90s", "5m"), falling back to defaultVal.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envPolicy reads a duplicate policy, falling back to defaultVal.
func envPolicy(key, defaultVal string) string {
	switch p := strings.ToLower(strings.TrimSpace(os.Getenv(key))); p {
	case PolicyAccept, PolicyReject:
		return p
	default:
		return defaultVal
	}
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// LoadProfiles parses the embedded verification profiles.
func LoadProfiles() ProfilesConfig {
	var profiles ProfilesConfig
	if err := yaml.Unmarshal(defaultsYAML, &profiles); err != nil {
		// Embedded file, so this only fails on a broken build.
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return profiles
}

// Profile returns the named profile, falling back to the default one.
func (p ProfilesConfig) Profile(name string) (string, VerificationProfile) {
	if prof, ok := p.Profiles[name]; ok {
		return name, prof
	}
	return DefaultProfile, p.Profiles[DefaultProfile]
}

// loadLocation resolves the attendance time zone, falling back to UTC.
func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: unknown time zone %q, using UTC\n", name)
		return time.UTC
	}
	return loc
}

// LoadAttendance builds the attendance parameters from the selected profile
// and individual environment overrides.
func LoadAttendance(profiles ProfilesConfig) AttendanceConfig {
	name, prof := profiles.Profile(os.Getenv("ATTENDANCE_PROFILE"))

	return AttendanceConfig{
		Profile:             name,
		DuplicateTolerance:  envDuration("ATTENDANCE_DUPLICATE_TOLERANCE", prof.DuplicateTolerance),
		BaseTolerance:       envFloat("FACE_BASE_TOLERANCE", prof.BaseTolerance),
		MinConfidence:       envFloat("FACE_MIN_CONFIDENCE", prof.MinConfidence),
		ToleranceCeiling:    envFloat("FACE_TOLERANCE_CEILING", cmp.Or(prof.ToleranceCeiling, 1.0)),
		VerificationTimeout: envDuration("FACE_VERIFICATION_TIMEOUT", prof.VerificationTimeout),
		MinPhotos:           envInt("FACE_MIN_PHOTOS", prof.MinPhotos),
		MaxReportedFailures: envInt("SYNC_MAX_REPORTED_FAILURES", 10),
		Location:            loadLocation(envString("ATTENDANCE_TIMEZONE", DefaultTimeZone)),
		FacialPolicy:        envPolicy("FACIAL_DUPLICATE_POLICY", PolicyAccept),
		QRPolicy:            envPolicy("QR_DUPLICATE_POLICY", PolicyReject),
		ManualPolicy:        envPolicy("MANUAL_DUPLICATE_POLICY", PolicyAccept),
	}
}

func Load() *Config {
	profiles := LoadProfiles()

	return &Config{
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Legacy: LegacyConfig{
			DatabaseURL: os.Getenv("LEGACY_DATABASE_URL"),
		},
		Embedding: EmbeddingConfig{
			URL:   os.Getenv("EMBEDDING_URL"),
			Dim:   envInt("EMBEDDING_DIM", 512),
			Model: envString("EMBEDDING_MODEL", "buffalo_l"),
		},
		Attendance: LoadAttendance(profiles),
		Web: WebConfig{
			AdminSecret:    os.Getenv("WEB_ADMIN_SECRET"),
			AllowedOrigins: os.Getenv("WEB_ALLOWED_ORIGINS"),
		},
		Profiles: profiles,
	}
}
