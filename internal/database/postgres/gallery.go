package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/kozaktomas/rh360-attendance/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// GalleryRepository provides PostgreSQL-backed face gallery storage with an
// optional in-memory HNSW index.
type GalleryRepository struct {
	pool      *Pool
	index     *database.GalleryIndex
	enabled   bool
	indexPath string
	mu        sync.RWMutex
}

// NewGalleryRepository creates a new PostgreSQL gallery repository.
func NewGalleryRepository(pool *Pool) *GalleryRepository {
	return &GalleryRepository{pool: pool}
}

func scanFaces(rows *sql.Rows) ([]database.FaceEmbedding, error) {
	var result []database.FaceEmbedding
	for rows.Next() {
		var f database.FaceEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(&f.ID, &f.EmployeeID, &vec, &f.Model, &f.Dim, &f.DetScore, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan face embedding: %w", err)
		}
		f.Embedding = vec.Slice()
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate face embeddings: %w", err)
	}
	return result, nil
}

// GetAllFaces returns every enrolled face.
func (r *GalleryRepository) GetAllFaces(ctx context.Context) ([]database.FaceEmbedding, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, employee_id, embedding, model, dim, det_score, created_at
		FROM face_embeddings
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query face embeddings: %w", err)
	}
	defer rows.Close()

	return scanFaces(rows)
}

// CountEmbeddings returns the number of enrolled face vectors.
func (r *GalleryRepository) CountEmbeddings(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM face_embeddings").Scan(&count); err != nil {
		return 0, fmt.Errorf("count face embeddings: %w", err)
	}
	return count, nil
}

// FindNearest returns up to limit faces of active employees ordered by cosine distance.
func (r *GalleryRepository) FindNearest(ctx context.Context, embedding []float32, limit int) ([]database.GalleryMatch, error) {
	if limit <= 0 {
		return nil, nil
	}

	r.mu.RLock()
	useIndex := r.enabled && r.index != nil
	r.mu.RUnlock()

	if useIndex {
		matches, err := r.findNearestIndex(ctx, embedding, limit)
		if err == nil {
			return matches, nil
		}
		fmt.Printf("Gallery index search failed, falling back to PostgreSQL: %v\n", err)
	}
	return r.findNearestPostgres(ctx, embedding, limit)
}

func (r *GalleryRepository) findNearestIndex(ctx context.Context, embedding []float32, limit int) ([]database.GalleryMatch, error) {
	r.mu.RLock()
	idx := r.index
	r.mu.RUnlock()
	if idx == nil {
		return nil, errors.New("gallery index not loaded")
	}

	candidates, err := idx.Search(embedding, limit*database.HNSWSearchMultiplier)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.Face.EmployeeID)
	}
	active, err := r.activeEmployees(ctx, ids)
	if err != nil {
		return nil, err
	}

	matches := make([]database.GalleryMatch, 0, limit)
	for _, c := range candidates {
		if !active[c.Face.EmployeeID] {
			continue
		}
		matches = append(matches, c)
		if len(matches) == limit {
			break
		}
	}
	return matches, nil
}

func (r *GalleryRepository) activeEmployees(ctx context.Context, ids []string) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx, "SELECT id FROM employees WHERE is_active AND id::text = ANY($1)", pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query active employees: %w", err)
	}
	defer rows.Close()

	active := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan employee id: %w", err)
		}
		active[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employee ids: %w", err)
	}
	return active, nil
}

func (r *GalleryRepository) findNearestPostgres(ctx context.Context, embedding []float32, limit int) ([]database.GalleryMatch, error) {
	query := `
		SELECT f.id, f.employee_id, f.embedding, f.model, f.dim, f.det_score, f.created_at,
		       f.embedding <=> $1 AS distance
		FROM face_embeddings f
		JOIN employees e ON e.id = f.employee_id
		WHERE e.is_active
		ORDER BY f.embedding <=> $1
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest faces: %w", err)
	}
	defer rows.Close()

	var matches []database.GalleryMatch
	for rows.Next() {
		var m database.GalleryMatch
		var vec pgvector.Vector
		if err := rows.Scan(&m.Face.ID, &m.Face.EmployeeID, &vec, &m.Face.Model, &m.Face.Dim,
			&m.Face.DetScore, &m.Face.CreatedAt, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan nearest face: %w", err)
		}
		m.Face.Embedding = vec.Slice()
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nearest faces: %w", err)
	}
	return matches, nil
}

// ReplaceEmbeddings swaps all faces of an employee for faces and updates the
// employee's has_face_registered flag.
func (r *GalleryRepository) ReplaceEmbeddings(ctx context.Context, employeeID string, faces []database.FaceEmbedding) error {
	if !isUUID(employeeID) {
		return fmt.Errorf("replace embeddings of %s: %w", employeeID, database.ErrNotFound)
	}

	stored := make([]database.FaceEmbedding, 0, len(faces))
	err := r.pool.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE employees SET has_face_registered = $2, updated_at = NOW() WHERE id = $1", employeeID, len(faces) > 0)
		if err != nil {
			return fmt.Errorf("update face flag: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("replace embeddings of %s: %w", employeeID, database.ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM face_embeddings WHERE employee_id = $1", employeeID); err != nil {
			return fmt.Errorf("delete old embeddings: %w", err)
		}

		for _, f := range faces {
			f.EmployeeID = employeeID
			if f.Dim == 0 {
				f.Dim = len(f.Embedding)
			}
			err := tx.QueryRowContext(ctx, `
				INSERT INTO face_embeddings (employee_id, embedding, model, dim, det_score)
				VALUES ($1, $2, $3, $4, $5)
				RETURNING id, created_at
			`, employeeID, pgvector.NewVector(f.Embedding), f.Model, f.Dim, f.DetScore).Scan(&f.ID, &f.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert face embedding: %w", err)
			}
			stored = append(stored, f)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.index != nil {
		r.index.RemoveEmployee(employeeID)
		r.index.Add(stored...)
	}
	r.mu.Unlock()
	return nil
}

// DeleteEmbeddings removes all faces of an employee.
func (r *GalleryRepository) DeleteEmbeddings(ctx context.Context, employeeID string) error {
	if err := r.ReplaceEmbeddings(ctx, employeeID, nil); err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}
	r.ForgetEmployee(employeeID)
	return nil
}

// ForgetEmployee drops an employee's faces from the in-memory index. Storage
// rows are removed by the employee cascade.
func (r *GalleryRepository) ForgetEmployee(employeeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index != nil {
		r.index.RemoveEmployee(employeeID)
	}
}

// tryLoadIndex attempts to load the index from disk. It succeeds only when
// the persisted face count and highest face ID match the database.
func (r *GalleryRepository) tryLoadIndex(indexPath string, dbCount, dbMaxID int64) bool {
	meta, err := database.LoadGalleryMetadata(indexPath)
	if err != nil {
		fmt.Printf("Gallery index: metadata file error: %v (will rebuild)\n", err)
		return false
	}
	if !meta.Matches(dbCount, dbMaxID) {
		fmt.Printf("Gallery index: stale (db: count=%d max_id=%d, cached: count=%d max_id=%d) (will rebuild)\n",
			dbCount, dbMaxID, meta.FaceCount, meta.MaxFaceID)
		return false
	}
	idx, err := database.LoadGalleryIndex(indexPath)
	if err != nil {
		fmt.Printf("Gallery index: failed to load: %v (will rebuild)\n", err)
		return false
	}
	r.index = idx
	fmt.Printf("Gallery index: loaded from disk\n")
	return true
}

// EnableIndex loads or builds the in-memory HNSW index. If indexPath is set
// the index is loaded from disk when fresh and saved after building.
func (r *GalleryRepository) EnableIndex(ctx context.Context, indexPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.indexPath = indexPath

	var dbCount, dbMaxID int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*), COALESCE(MAX(id), 0) FROM face_embeddings").Scan(&dbCount, &dbMaxID); err != nil {
		return fmt.Errorf("failed to get face count: %w", err)
	}

	if indexPath != "" && dbCount > 0 && r.tryLoadIndex(indexPath, dbCount, dbMaxID) {
		r.enabled = true
		return nil
	}

	faces, err := r.GetAllFaces(ctx)
	if err != nil {
		return fmt.Errorf("failed to load faces: %w", err)
	}

	r.index = database.NewGalleryIndex()
	r.index.Build(faces)

	if indexPath != "" && len(faces) > 0 {
		if err := r.index.Save(indexPath); err != nil {
			fmt.Printf("Warning: failed to save gallery index to disk: %v\n", err)
		}
	}

	r.enabled = true
	return nil
}

// UseIndexPath sets where RebuildIndex and SaveIndex persist the index.
func (r *GalleryRepository) UseIndexPath(indexPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexPath = indexPath
}

// RebuildIndex rebuilds the index from PostgreSQL data.
func (r *GalleryRepository) RebuildIndex(ctx context.Context) error {
	r.mu.RLock()
	indexPath := r.indexPath
	r.mu.RUnlock()

	if indexPath == "" {
		return r.EnableIndex(ctx, "")
	}
	// Skip the persisted graph; it may be the stale one being replaced.
	return r.enableFresh(ctx, indexPath)
}

func (r *GalleryRepository) enableFresh(ctx context.Context, indexPath string) error {
	faces, err := r.GetAllFaces(ctx)
	if err != nil {
		return fmt.Errorf("failed to load faces: %w", err)
	}

	idx := database.NewGalleryIndex()
	idx.Build(faces)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.index = idx
	r.indexPath = indexPath
	r.enabled = true
	if err := idx.Save(indexPath); err != nil {
		return fmt.Errorf("save gallery index: %w", err)
	}
	return nil
}

// IsIndexEnabled returns whether searches go through the in-memory index.
func (r *GalleryRepository) IsIndexEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled && r.index != nil
}

// IndexCount returns the number of faces in the in-memory index.
func (r *GalleryRepository) IndexCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.index == nil {
		return 0
	}
	return r.index.Count()
}

// SaveIndex persists the index to disk if a path is configured.
func (r *GalleryRepository) SaveIndex() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.indexPath == "" || r.index == nil {
		return nil
	}
	if err := r.index.Save(r.indexPath); err != nil {
		return fmt.Errorf("save gallery index: %w", err)
	}
	return nil
}
