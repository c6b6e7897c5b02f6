//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/kozaktomas/rh360-attendance/internal/config"
	"github.com/kozaktomas/rh360-attendance/internal/database"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	// Run migrations
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func seedEmployee(t *testing.T, repo *EmployeeRepository, rut, code, name string) *database.Employee {
	t.Helper()
	e := &database.Employee{
		RUT:          rut,
		EmployeeCode: code,
		Name:         name,
		Department:   "General",
		Position:     "Empleado",
		Active:       true,
	}
	if err := repo.CreateEmployee(context.Background(), e); err != nil {
		t.Fatalf("Failed to create employee %s: %v", name, err)
	}
	return e
}

func unitVector(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot%dim] = 1
	return v
}

func TestMigrate_Idempotent(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()
	ctx := context.Background()

	if err := pool.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	versions, err := pool.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations failed: %v", err)
	}
	if len(versions) != 1 || versions[0] != "001_initial.sql" {
		t.Errorf("unexpected migrations %v", versions)
	}
}

func TestEmployeeRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewEmployeeRepository(pool)
	ana := seedEmployee(t, repo, "12345678-5", "EMP001", "Ana María Pérez")
	seedEmployee(t, repo, "10000013-K", "EMP002", "Bruno Soto")

	t.Run("LookupByRUTAndCode", func(t *testing.T) {
		got, err := repo.GetEmployeeByRUT(ctx, "12345678-5")
		if err != nil {
			t.Fatalf("GetEmployeeByRUT: %v", err)
		}
		if got == nil || got.ID != ana.ID {
			t.Fatalf("Expected Ana, got %+v", got)
		}

		got, err = repo.GetEmployeeByCode(ctx, "EMP002")
		if err != nil {
			t.Fatalf("GetEmployeeByCode: %v", err)
		}
		if got == nil || got.Name != "Bruno Soto" {
			t.Errorf("Expected Bruno, got %+v", got)
		}

		got, err = repo.GetEmployee(ctx, "not-a-uuid")
		if err != nil || got != nil {
			t.Errorf("Expected nil, nil for malformed ID, got %+v, %v", got, err)
		}
	})

	t.Run("DuplicateRUT", func(t *testing.T) {
		err := repo.CreateEmployee(ctx, &database.Employee{RUT: "12345678-5", EmployeeCode: "EMP099", Name: "Copia", Active: true})
		if !errors.Is(err, database.ErrDuplicateRUT) {
			t.Errorf("Expected ErrDuplicateRUT, got %v", err)
		}
	})

	t.Run("NameSearchIgnoresAccents", func(t *testing.T) {
		matches, err := repo.FindEmployeesByName(ctx, "maria perez")
		if err != nil {
			t.Fatalf("FindEmployeesByName: %v", err)
		}
		if len(matches) != 1 || matches[0].ID != ana.ID {
			t.Errorf("Expected only Ana, got %+v", matches)
		}
	})

	t.Run("Deactivate", func(t *testing.T) {
		bruno, _ := repo.GetEmployeeByCode(ctx, "EMP002")
		bruno.Active = false
		if err := repo.UpdateEmployee(ctx, bruno); err != nil {
			t.Fatalf("UpdateEmployee: %v", err)
		}
		active, err := repo.ListEmployees(ctx, true)
		if err != nil {
			t.Fatalf("ListEmployees: %v", err)
		}
		if len(active) != 1 {
			t.Errorf("Expected 1 active employee, got %d", len(active))
		}
		matches, _ := repo.FindEmployeesByName(ctx, "bruno")
		if len(matches) != 0 {
			t.Errorf("Inactive employees must not match by name, got %+v", matches)
		}
	})
}

func TestRecordRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	employees := NewEmployeeRepository(pool)
	records := NewRecordRepository(pool)
	ana := seedEmployee(t, employees, "12345678-5", "EMP001", "Ana Pérez")
	base := time.Date(2025, 3, 3, 11, 0, 0, 0, time.UTC)
	confidence := 0.91

	t.Run("CreateAndWindow", func(t *testing.T) {
		rec := &database.AttendanceRecord{
			ID: "6f1c7c9e-2f55-4c39-9d8e-0d6a3c1f0a01", EmployeeID: ana.ID, Type: "ENTRADA", Timestamp: base,
			Method: database.MethodFacial, FaceConfidence: &confidence, Notes: "facial",
		}
		if err := records.CreateRecord(ctx, rec, 5*time.Minute); err != nil {
			t.Fatalf("CreateRecord: %v", err)
		}

		found, err := records.FindRecordInWindow(ctx, ana.ID, "entrada", base.Add(-time.Minute), base.Add(time.Minute))
		if err != nil {
			t.Fatalf("FindRecordInWindow: %v", err)
		}
		if found == nil || found.ID != rec.ID {
			t.Fatalf("Expected record %s, got %+v", rec.ID, found)
		}
		if found.FaceConfidence == nil || *found.FaceConfidence != confidence {
			t.Errorf("Expected face confidence %v, got %v", confidence, found.FaceConfidence)
		}
		if found.EmployeeRUT != "12345678-5" {
			t.Errorf("Expected joined RUT, got %q", found.EmployeeRUT)
		}
	})

	t.Run("DuplicateInsideWindow", func(t *testing.T) {
		rec := &database.AttendanceRecord{
			ID: "6f1c7c9e-2f55-4c39-9d8e-0d6a3c1f0a02", EmployeeID: ana.ID, Type: "entrada",
			Timestamp: base.Add(4 * time.Minute), Method: database.MethodManual,
		}
		err := records.CreateRecord(ctx, rec, 5*time.Minute)
		var dup *database.DuplicateRecordError
		if !errors.As(err, &dup) {
			t.Fatalf("Expected DuplicateRecordError, got %v", err)
		}

		rec.Timestamp = base.Add(6 * time.Minute)
		if err := records.CreateRecord(ctx, rec, 5*time.Minute); err != nil {
			t.Fatalf("Expected record outside window to be created: %v", err)
		}
	})

	t.Run("EvidenceConstraint", func(t *testing.T) {
		verified := true
		rec := &database.AttendanceRecord{
			ID: "6f1c7c9e-2f55-4c39-9d8e-0d6a3c1f0a03", EmployeeID: ana.ID, Type: "salida",
			Timestamp: base.Add(8 * time.Hour), Method: database.MethodManual, QRVerified: &verified,
		}
		if err := records.CreateRecord(ctx, rec, 5*time.Minute); err == nil {
			t.Error("Expected manual record with QR evidence to be rejected")
		}
	})

	t.Run("ConcurrentCreates", func(t *testing.T) {
		at := base.Add(24 * time.Hour)
		var wg sync.WaitGroup
		var mu sync.Mutex
		created := 0
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec := &database.AttendanceRecord{
					ID:         fmt.Sprintf("6f1c7c9e-2f55-4c39-9d8e-0d6a3c1f0b%02d", i),
					EmployeeID: ana.ID, Type: "entrada", Timestamp: at.Add(time.Duration(i) * time.Second),
					Method: database.MethodManual,
				}
				if err := records.CreateRecord(ctx, rec, 5*time.Minute); err == nil {
					mu.Lock()
					created++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if created != 1 {
			t.Errorf("Expected exactly one record created, got %d", created)
		}
	})

	t.Run("CascadeDelete", func(t *testing.T) {
		counts, err := records.CountRecordsByMethod(ctx, database.RecordFilter{EmployeeID: ana.ID})
		if err != nil {
			t.Fatalf("CountRecordsByMethod: %v", err)
		}
		if counts[database.MethodFacial] != 1 || counts[database.MethodManual] != 2 {
			t.Errorf("Unexpected counts %v", counts)
		}

		if err := employees.DeleteEmployee(ctx, ana.ID); err != nil {
			t.Fatalf("DeleteEmployee: %v", err)
		}
		list, err := records.ListRecords(ctx, database.RecordFilter{EmployeeID: ana.ID})
		if err != nil {
			t.Fatalf("ListRecords: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("Expected records to be deleted with the employee, got %d", len(list))
		}
		got, _ := employees.GetEmployeeByRUT(ctx, "12345678-5")
		if got != nil {
			t.Error("Expected employee to be gone")
		}
	})
}

func TestGalleryRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	employees := NewEmployeeRepository(pool)
	gallery := NewGalleryRepository(pool)
	ana := seedEmployee(t, employees, "12345678-5", "EMP001", "Ana Pérez")
	bruno := seedEmployee(t, employees, "10000013-K", "EMP002", "Bruno Soto")

	faces := func(hot ...int) []database.FaceEmbedding {
		var out []database.FaceEmbedding
		for _, h := range hot {
			out = append(out, database.FaceEmbedding{Embedding: unitVector(512, h), Model: "buffalo_l", DetScore: 0.9})
		}
		return out
	}
	if err := gallery.ReplaceEmbeddings(ctx, ana.ID, faces(1, 2)); err != nil {
		t.Fatalf("ReplaceEmbeddings ana: %v", err)
	}
	if err := gallery.ReplaceEmbeddings(ctx, bruno.ID, faces(10, 11)); err != nil {
		t.Fatalf("ReplaceEmbeddings bruno: %v", err)
	}

	check := func(t *testing.T) {
		t.Helper()
		matches, err := gallery.FindNearest(ctx, unitVector(512, 10), 3)
		if err != nil {
			t.Fatalf("FindNearest: %v", err)
		}
		if len(matches) == 0 || matches[0].Face.EmployeeID != bruno.ID {
			t.Fatalf("Expected Bruno first, got %+v", matches)
		}
		if matches[0].Distance > 1e-4 {
			t.Errorf("Expected near-zero distance, got %f", matches[0].Distance)
		}
	}

	t.Run("PostgresSearch", check)

	t.Run("IndexSearch", func(t *testing.T) {
		if err := gallery.EnableIndex(ctx, ""); err != nil {
			t.Fatalf("EnableIndex: %v", err)
		}
		if gallery.IndexCount() != 4 {
			t.Errorf("Expected 4 indexed faces, got %d", gallery.IndexCount())
		}
		check(t)
	})

	t.Run("InactiveExcluded", func(t *testing.T) {
		bruno.Active = false
		if err := employees.UpdateEmployee(ctx, bruno); err != nil {
			t.Fatalf("UpdateEmployee: %v", err)
		}
		matches, err := gallery.FindNearest(ctx, unitVector(512, 10), 3)
		if err != nil {
			t.Fatalf("FindNearest: %v", err)
		}
		for _, m := range matches {
			if m.Face.EmployeeID == bruno.ID {
				t.Errorf("Inactive employee returned: %+v", m)
			}
		}
	})

	t.Run("FlagFollowsEnrollment", func(t *testing.T) {
		if err := gallery.DeleteEmbeddings(ctx, ana.ID); err != nil {
			t.Fatalf("DeleteEmbeddings: %v", err)
		}
		got, _ := employees.GetEmployee(ctx, ana.ID)
		if got.HasFaceRegistered {
			t.Error("Expected has_face_registered to be cleared")
		}
		if gallery.IndexCount() != 2 {
			t.Errorf("Expected 2 indexed faces, got %d", gallery.IndexCount())
		}
	}})

	t.Run("StaleIndexFileRebuilt", func(t *testing.T) {
		bruno.Active = true
		if err := employees.UpdateEmployee(ctx, bruno); err != nil {
			t.Fatalf("UpdateEmployee: %v", err)
		}
		path := filepath.Join(t.TempDir(), "gallery.hnsw")

		serving := NewGalleryRepository(pool)
		if err := serving.EnableIndex(ctx, path); err != nil {
			t.Fatalf("EnableIndex: %v", err)
		}

		// Another process re-enrolls bruno with the same number of faces.
		if err := NewGalleryRepository(pool).ReplaceEmbeddings(ctx, bruno.ID, faces(20, 21)); err != nil {
			t.Fatalf("ReplaceEmbeddings: %v", err)
		}
		// The serving process then persists its outdated graph on shutdown.
		if err := serving.SaveIndex(); err != nil {
			t.Fatalf("SaveIndex: %v", err)
		}

		restarted := NewGalleryRepository(pool)
		if err := restarted.EnableIndex(ctx, path); err != nil {
			t.Fatalf("EnableIndex after restart: %v", err)
		}
		matches, err := restarted.FindNearest(ctx, unitVector(512, 20), 1)
		if err != nil {
			t.Fatalf("FindNearest: %v", err)
		}
		if len(matches) != 1 || matches[0].Face.EmployeeID != bruno.ID || matches[0].Distance > 1e-4 {
			t.Fatalf("Expected Bruno's new face, got %+v", matches)
		}
	})
}
