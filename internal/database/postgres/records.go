package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/rh360-attendance/internal/database"
)

const recordColumns = `r.id, r.employee_id, r.attendance_type, r.timestamp, r.latitude, r.longitude, r.address,
	r.verification_method, r.face_confidence, r.qr_verified, r.notes, r.is_offline_sync, r.created_at,
	e.name, e.rut`

// RecordRepository provides PostgreSQL-backed attendance record storage.
type RecordRepository struct {
	pool *Pool
}

// NewRecordRepository creates a new PostgreSQL record repository.
func NewRecordRepository(pool *Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

func scanRecord(row interface{ Scan(...any) error }) (*database.AttendanceRecord, error) {
	var (
		rec        database.AttendanceRecord
		method     string
		lat, lng   sql.NullFloat64
		confidence sql.NullFloat64
		qrVerified sql.NullBool
	)
	err := row.Scan(&rec.ID, &rec.EmployeeID, &rec.Type, &rec.Timestamp, &lat, &lng, &rec.Location.Address,
		&method, &confidence, &qrVerified, &rec.Notes, &rec.OfflineSync, &rec.CreatedAt,
		&rec.EmployeeName, &rec.EmployeeRUT)
	if err != nil {
		return nil, err
	}
	rec.Method = database.VerificationMethod(method)
	if lat.Valid {
		rec.Location.Latitude = &lat.Float64
	}
	if lng.Valid {
		rec.Location.Longitude = &lng.Float64
	}
	if confidence.Valid {
		rec.FaceConfidence = &confidence.Float64
	}
	if qrVerified.Valid {
		rec.QRVerified = &qrVerified.Bool
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]database.AttendanceRecord, error) {
	var result []database.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance record: %w", err)
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance records: %w", err)
	}
	return result, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const windowQuery = `
	SELECT ` + recordColumns + `
	FROM attendance_records r
	JOIN employees e ON e.id = r.employee_id
	WHERE r.employee_id = $1 AND r.attendance_type = $2 AND r.timestamp BETWEEN $3 AND $4
	ORDER BY r.timestamp
	LIMIT 1
`

func findInWindow(ctx context.Context, q queryer, employeeID, eventType string, from, to time.Time) (*database.AttendanceRecord, error) {
	rec, err := scanRecord(q.QueryRowContext(ctx, windowQuery, employeeID, strings.ToLower(eventType), from, to))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find record in window: %w", err)
	}
	return rec, nil
}

// FindRecordInWindow returns the earliest record of the employee and type in [from, to].
func (r *RecordRepository) FindRecordInWindow(
	ctx context.Context, employeeID, eventType string, from, to time.Time,
) (*database.AttendanceRecord, error) {
	if !isUUID(employeeID) {
		return nil, nil
	}
	return findInWindow(ctx, r.pool.DB(), employeeID, eventType, from, to)
}

// GetRecord retrieves a record by ID.
func (r *RecordRepository) GetRecord(ctx context.Context, id string) (*database.AttendanceRecord, error) {
	if !isUUID(id) {
		return nil, nil
	}
	query := `SELECT ` + recordColumns + ` FROM attendance_records r JOIN employees e ON e.id = r.employee_id WHERE r.id = $1`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attendance record: %w", err)
	}
	return rec, nil
}

// filterClause builds the WHERE clause and arguments for a RecordFilter.
func filterClause(filter database.RecordFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.EmployeeID != "" {
		args = append(args, filter.EmployeeID)
		conds = append(conds, fmt.Sprintf("r.employee_id = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conds = append(conds, fmt.Sprintf("r.timestamp >= $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListRecords returns records newest first.
func (r *RecordRepository) ListRecords(ctx context.Context, filter database.RecordFilter) ([]database.AttendanceRecord, error) {
	if filter.EmployeeID != "" && !isUUID(filter.EmployeeID) {
		return nil, nil
	}
	where, args := filterClause(filter)
	query := `SELECT ` + recordColumns + ` FROM attendance_records r JOIN employees e ON e.id = r.employee_id` +
		where + ` ORDER BY r.timestamp DESC, r.id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// CountRecordsByMethod counts records matching filter per verification method.
func (r *RecordRepository) CountRecordsByMethod(
	ctx context.Context, filter database.RecordFilter,
) (map[database.VerificationMethod]int, error) {
	counts := make(map[database.VerificationMethod]int)
	if filter.EmployeeID != "" && !isUUID(filter.EmployeeID) {
		return counts, nil
	}
	where, args := filterClause(filter)
	rows, err := r.pool.Query(ctx,
		`SELECT r.verification_method, COUNT(*) FROM attendance_records r`+where+` GROUP BY r.verification_method`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("count attendance records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var method string
		var n int
		if err := rows.Scan(&method, &n); err != nil {
			return nil, fmt.Errorf("scan record count: %w", err)
		}
		counts[database.VerificationMethod(method)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record counts: %w", err)
	}
	return counts, nil
}

// CreateRecord inserts rec unless a record of the same employee and type
// exists within tolerance of its timestamp. The check and insert run in one
// transaction holding an advisory lock on (employee, type), so concurrent
// creates from any number of processes are serialized.
func (r *RecordRepository) CreateRecord(ctx context.Context, rec *database.AttendanceRecord, tolerance time.Duration) error {
	eventType := strings.ToLower(rec.Type)

	err := r.pool.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))", rec.EmployeeID, eventType,
		); err != nil {
			return fmt.Errorf("acquire record lock: %w", err)
		}

		existing, err := findInWindow(ctx, tx, rec.EmployeeID, eventType, rec.Timestamp.Add(-tolerance), rec.Timestamp.Add(tolerance))
		if err != nil {
			return err
		}
		if existing != nil {
			return &database.DuplicateRecordError{Existing: existing}
		}

		query := `
			INSERT INTO attendance_records (id, employee_id, attendance_type, timestamp, latitude, longitude, address,
				verification_method, face_confidence, qr_verified, notes, is_offline_sync)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING created_at
		`
		if err := tx.QueryRowContext(ctx, query, rec.ID, rec.EmployeeID, eventType, rec.Timestamp,
			rec.Location.Latitude, rec.Location.Longitude, rec.Location.Address,
			string(rec.Method), rec.FaceConfidence, rec.QRVerified, rec.Notes, rec.OfflineSync,
		).Scan(&rec.CreatedAt); err != nil {
			return fmt.Errorf("insert attendance record: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	rec.Type = eventType
	return nil
}

// DeleteRecord removes a single record.
func (r *RecordRepository) DeleteRecord(ctx context.Context, id string) error {
	if !isUUID(id) {
		return fmt.Errorf("delete record %s: %w", id, database.ErrNotFound)
	}
	res, err := r.pool.Exec(ctx, "DELETE FROM attendance_records WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete attendance record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete attendance record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete record %s: %w", id, database.ErrNotFound)
	}
	return nil
}
