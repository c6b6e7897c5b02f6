package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kozaktomas/rh360-attendance/internal/database"
	"github.com/kozaktomas/rh360-attendance/internal/facematch"
	"github.com/lib/pq"
)

const employeeColumns = `id, rut, employee_code, name, email, department, position,
	is_active, has_face_registered, created_at, updated_at`

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// EmployeeRepository provides PostgreSQL-backed employee storage.
type EmployeeRepository struct {
	pool *Pool
}

// NewEmployeeRepository creates a new PostgreSQL employee repository.
func NewEmployeeRepository(pool *Pool) *EmployeeRepository {
	return &EmployeeRepository{pool: pool}
}

func scanEmployee(row interface{ Scan(...any) error }) (*database.Employee, error) {
	var e database.Employee
	err := row.Scan(&e.ID, &e.RUT, &e.EmployeeCode, &e.Name, &e.Email, &e.Department, &e.Position,
		&e.Active, &e.HasFaceRegistered, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEmployees(rows *sql.Rows) ([]database.Employee, error) {
	var result []database.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return result, nil
}

func (r *EmployeeRepository) getOne(ctx context.Context, where string, arg any) (*database.Employee, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+employeeColumns+" FROM employees WHERE "+where, arg)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get employee: %w", err)
	}
	return e, nil
}

// GetEmployee retrieves an employee by internal ID.
func (r *EmployeeRepository) GetEmployee(ctx context.Context, id string) (*database.Employee, error) {
	if !isUUID(id) {
		return nil, nil
	}
	return r.getOne(ctx, "id = $1", id)
}

// GetEmployeeByRUT retrieves an employee by canonical RUT.
func (r *EmployeeRepository) GetEmployeeByRUT(ctx context.Context, rut string) (*database.Employee, error) {
	return r.getOne(ctx, "rut = $1", rut)
}

// GetEmployeeByCode retrieves an employee by internal employee code.
func (r *EmployeeRepository) GetEmployeeByCode(ctx context.Context, code string) (*database.Employee, error) {
	return r.getOne(ctx, "employee_code = $1", code)
}

// FindEmployeesByName returns active employees whose name contains fragment.
// Names are compared after facematch.NormalizePersonName so "maria" matches "María".
func (r *EmployeeRepository) FindEmployeesByName(ctx context.Context, fragment string) ([]database.Employee, error) {
	needle := facematch.NormalizePersonName(fragment)
	if needle == "" {
		return nil, nil
	}

	active, err := r.ListEmployees(ctx, true)
	if err != nil {
		return nil, err
	}

	var matches []database.Employee
	for _, e := range active {
		if strings.Contains(facematch.NormalizePersonName(e.Name), needle) {
			matches = append(matches, e)
		}
	}
	return matches, nil
}

// ListEmployees returns employees ordered by name.
func (r *EmployeeRepository) ListEmployees(ctx context.Context, activeOnly bool) ([]database.Employee, error) {
	query := "SELECT " + employeeColumns + " FROM employees"
	if activeOnly {
		query += " WHERE is_active"
	}
	query += " ORDER BY name, id"

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query employees: %w", err)
	}
	defer rows.Close()

	return scanEmployees(rows)
}

// isUUID reports whether id can be compared against a UUID column.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// mapConstraintError translates unique violations into domain errors.
func mapConstraintError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case "employees_rut_key":
		return database.ErrDuplicateRUT
	case "employees_employee_code_key":
		return fmt.Errorf("employee code already exists: %w", err)
	default:
		return err
	}
}

// CreateEmployee inserts a new employee. ID and timestamps are filled in when empty.
func (r *EmployeeRepository) CreateEmployee(ctx context.Context, e *database.Employee) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	query := `
		INSERT INTO employees (id, rut, employee_code, name, email, department, position, is_active, has_face_registered)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, query, e.ID, e.RUT, e.EmployeeCode, e.Name, e.Email, e.Department, e.Position,
		e.Active, e.HasFaceRegistered).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if mapped := mapConstraintError(err); errors.Is(mapped, database.ErrDuplicateRUT) {
			return mapped
		}
		return fmt.Errorf("insert employee: %w", mapConstraintError(err))
	}
	return nil
}

// UpdateEmployee overwrites the mutable fields of an employee.
func (r *EmployeeRepository) UpdateEmployee(ctx context.Context, e *database.Employee) error {
	query := `
		UPDATE employees
		SET rut = $2, employee_code = $3, name = $4, email = $5, department = $6, position = $7,
		    is_active = $8, has_face_registered = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.pool.QueryRow(ctx, query, e.ID, e.RUT, e.EmployeeCode, e.Name, e.Email, e.Department, e.Position,
		e.Active, e.HasFaceRegistered).Scan(&e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update employee %s: %w", e.ID, database.ErrNotFound)
	}
	if err != nil {
		if mapped := mapConstraintError(err); errors.Is(mapped, database.ErrDuplicateRUT) {
			return mapped
		}
		return fmt.Errorf("update employee: %w", mapConstraintError(err))
	}
	return nil
}

// DeleteEmployee removes an employee. Records and face embeddings go with it
// through ON DELETE CASCADE.
func (r *EmployeeRepository) DeleteEmployee(ctx context.Context, id string) error {
	if !isUUID(id) {
		return fmt.Errorf("delete employee %s: %w", id, database.ErrNotFound)
	}
	res, err := r.pool.Exec(ctx, "DELETE FROM employees WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete employee: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete employee: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete employee %s: %w", id, database.ErrNotFound)
	}
	return nil
}
