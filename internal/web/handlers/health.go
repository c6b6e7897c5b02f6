package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/kozaktomas/rh360-attendance/internal/config"
	"github.com/kozaktomas/rh360-attendance/internal/database"
)

const embeddingHealthTTL = 30 * time.Second

// EmbeddingChecker reports whether the embedding server answers.
type EmbeddingChecker interface {
	Health(ctx context.Context) error
}

// embeddingHealthCache remembers the last embedding server health check
type embeddingHealthCache struct {
	mu        sync.RWMutex
	status    string
	expiresAt time.Time
}

func (c *embeddingHealthCache) get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status == "" || time.Now().After(c.expiresAt) {
		return "", false
	}
	return c.status, true
}

func (c *embeddingHealthCache) set(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
	c.expiresAt = time.Now().Add(embeddingHealthTTL)
}

// HealthHandler reports liveness and the active verification profile
type HealthHandler struct {
	cfg      config.AttendanceConfig
	gallery  database.GalleryReader
	embedder EmbeddingChecker
	cache    embeddingHealthCache
}

// NewHealthHandler creates a new health handler. gallery and embedder may be nil.
func NewHealthHandler(cfg config.AttendanceConfig, gallery database.GalleryReader, embedder EmbeddingChecker) *HealthHandler {
	return &HealthHandler{cfg: cfg, gallery: gallery, embedder: embedder}
}

// ProfileInfo summarizes the active verification parameters
type ProfileInfo struct {
	Name                       string  `json:"name"`
	BaseTolerance              float64 `json:"base_tolerance"`
	MinConfidence              float64 `json:"min_confidence"`
	VerificationTimeoutSeconds float64 `json:"verification_timeout_seconds"`
	MinPhotos                  int     `json:"min_photos"`
	DuplicateToleranceMinutes  float64 `json:"duplicate_tolerance_minutes"`
	TimeZone                   string  `json:"time_zone"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status          string      `json:"status"`
	Profile         ProfileInfo `json:"profile"`
	EnrolledFaces   *int        `json:"enrolled_faces,omitempty"`
	EmbeddingServer string      `json:"embedding_server"`
}

// Get handles GET /api/v1/health
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Profile: ProfileInfo{
			Name:                       h.cfg.Profile,
			BaseTolerance:              h.cfg.BaseTolerance,
			MinConfidence:              h.cfg.MinConfidence,
			VerificationTimeoutSeconds: h.cfg.VerificationTimeout.Seconds(),
			MinPhotos:                  h.cfg.MinPhotos,
			DuplicateToleranceMinutes:  h.cfg.DuplicateTolerance.Minutes(),
		},
		EmbeddingServer: h.embeddingStatus(r.Context()),
	}
	if h.cfg.Location != nil {
		resp.Profile.TimeZone = h.cfg.Location.String()
	}
	if h.gallery != nil {
		if n, err := h.gallery.CountEmbeddings(r.Context()); err == nil {
			resp.EnrolledFaces = &n
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *HealthHandler) embeddingStatus(ctx context.Context) string {
	if h.embedder == nil {
		return "not configured"
	}
	if status, ok := h.cache.get(); ok {
		return status
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	status := "ok"
	if err := h.embedder.Health(ctx); err != nil {
		status = "unavailable"
	}
	h.cache.set(status)
	return status
}
