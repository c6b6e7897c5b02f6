package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/rh360-attendance/internal/attendance"
	"github.com/kozaktomas/rh360-attendance/internal/biometric"
	"github.com/kozaktomas/rh360-attendance/internal/config"
	"github.com/kozaktomas/rh360-attendance/internal/database"
	"github.com/kozaktomas/rh360-attendance/internal/database/postgres"
	"github.com/kozaktomas/rh360-attendance/internal/enrollment"
	"github.com/kozaktomas/rh360-attendance/internal/facematch"
	"github.com/kozaktomas/rh360-attendance/internal/reconcile"
)

// backend holds the PostgreSQL repositories shared by the commands.
type backend struct {
	cfg       *config.Config
	pool      *postgres.Pool
	employees *postgres.EmployeeRepository
	records   *postgres.RecordRepository
	gallery   *postgres.GalleryRepository
}

// openBackend connects to PostgreSQL, runs migrations and registers the gallery rebuilder.
func openBackend(cfg *config.Config) (*backend, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	fmt.Printf("Connecting to PostgreSQL database...\n")
	pool, err := postgres.Open(context.Background(), &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	b := &backend{
		cfg:       cfg,
		pool:      pool,
		employees: postgres.NewEmployeeRepository(pool),
		records:   postgres.NewRecordRepository(pool),
		gallery:   postgres.NewGalleryRepository(pool),
	}

	database.RegisterGalleryRebuilder(b.gallery)
	return b, nil
}

func (b *backend) Close() {
	if err := b.pool.Close(); err != nil {
		fmt.Printf("Warning: failed to close database: %v\n", err)
	}
}

// enableGalleryIndex builds or loads the in-memory HNSW index for face matching.
func (b *backend) enableGalleryIndex(ctx context.Context) {
	indexPath := b.cfg.Database.HNSWIndexPath
	if indexPath != "" {
		fmt.Printf("Loading gallery HNSW index from %s...\n", indexPath)
	} else {
		fmt.Printf("Building in-memory HNSW index for face matching...\n")
	}
	if err := b.gallery.EnableIndex(ctx, indexPath); err != nil {
		fmt.Printf("Warning: Failed to build gallery HNSW index: %v\n", err)
		fmt.Printf("Face matching will use PostgreSQL queries (slower)\n")
	} else if indexPath != "" {
		fmt.Printf("Gallery HNSW index ready with %d faces (persisted to %s)\n", b.gallery.IndexCount(), indexPath)
	} else {
		fmt.Printf("Gallery HNSW index built with %d faces (in-memory only)\n", b.gallery.IndexCount())
	}
}

// embeddingClient returns a client for the embedding server, or nil when
// EMBEDDING_URL is not set.
func (b *backend) embeddingClient() *biometric.EmbeddingClient {
	if b.cfg.Embedding.URL == "" {
		return nil
	}
	return biometric.NewEmbeddingClient(b.cfg.Embedding.URL, b.cfg.Embedding.Model, b.cfg.Embedding.Dim)
}

// attendanceRouter wires face matching (when configured) into a verification router.
func (b *backend) attendanceRouter(client *biometric.EmbeddingClient) *attendance.Router {
	var matcher attendance.FaceMatcher
	if client != nil {
		matcher = facematch.NewMatcher(client, b.gallery, b.cfg.Attendance)
	}
	return attendance.NewRouter(b.employees, b.records, matcher, b.cfg.Attendance)
}

func (b *backend) reconcileEngine(router *attendance.Router) *reconcile.Engine {
	engine := reconcile.NewEngine(router, b.cfg.Attendance.MaxReportedFailures)
	engine.SetItemBudget(b.cfg.Attendance.VerificationTimeout)
	return engine
}

func (b *backend) enrollmentService(client *biometric.EmbeddingClient) *enrollment.Service {
	var extractor enrollment.FaceExtractor
	if client != nil {
		extractor = client
	}
	return enrollment.NewService(b.employees, b.gallery, extractor, b.cfg.Embedding.Model, b.cfg.Attendance.MinPhotos)
}

// saveGalleryIndex persists the HNSW index if a path is configured.
func saveGalleryIndex() {
	rebuilder := database.GetGalleryRebuilder()
	if rebuilder == nil || !rebuilder.IsIndexEnabled() {
		return
	}
	if err := rebuilder.SaveIndex(); err != nil {
		fmt.Printf("Warning: failed to save gallery HNSW index: %v\n", err)
	} else {
		fmt.Println("Gallery HNSW index saved to disk")
	}
}
