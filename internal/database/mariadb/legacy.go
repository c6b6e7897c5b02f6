package mariadb

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Table names of the previous deployment.
const (
	employeeTable = "facial_recognition_employee"
	recordTable   = "facial_recognition_attendancerecord"
)

// LegacyEmployee is an employee row of the previous deployment.
type LegacyEmployee struct {
	ID                int64
	EmployeeCode      string
	Name              string
	Email             string
	RUT               string // as stored, not necessarily canonical
	Department        string
	Position          string
	Active            bool
	HasFaceRegistered bool
}

// LegacyRecord is an attendance row of the previous deployment.
type LegacyRecord struct {
	ID                 int64
	EmployeeID         int64
	Type               string
	Timestamp          time.Time
	Latitude           *float64
	Longitude          *float64
	Address            string
	VerificationMethod string
	FaceConfidence     *float64
	QRVerified         *bool
	Notes              string
	OfflineSync        bool
}

// ListEmployees returns all legacy employees ordered by ID.
func (p *Pool) ListEmployees(ctx context.Context) ([]LegacyEmployee, error) {
	query := `
		SELECT id, COALESCE(employee_id, ''), name, COALESCE(email, ''), COALESCE(rut, ''),
		       COALESCE(department, ''), COALESCE(position, ''), is_active, has_face_registered
		FROM ` + employeeTable + `
		ORDER BY id
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query legacy employees: %w", err)
	}
	defer rows.Close()

	var result []LegacyEmployee
	for rows.Next() {
		var e LegacyEmployee
		if err := rows.Scan(&e.ID, &e.EmployeeCode, &e.Name, &e.Email, &e.RUT,
			&e.Department, &e.Position, &e.Active, &e.HasFaceRegistered); err != nil {
			return nil, fmt.Errorf("scan legacy employee: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate legacy employees: %w", err)
	}
	return result, nil
}

// ListRecords returns legacy attendance records at or after since, oldest first.
func (p *Pool) ListRecords(ctx context.Context, since time.Time) ([]LegacyRecord, error) {
	query := `
		SELECT id, employee_id, attendance_type, timestamp, latitude, longitude, COALESCE(address, ''),
		       verification_method, face_confidence, qr_verified, COALESCE(notes, ''), is_offline_sync
		FROM ` + recordTable + `
		WHERE timestamp >= ?
		ORDER BY timestamp, id
	`
	rows, err := p.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query legacy records: %w", err)
	}
	defer rows.Close()

	var result []LegacyRecord
	for rows.Next() {
		var (
			r          LegacyRecord
			lat, lng   sql.NullFloat64
			confidence sql.NullFloat64
			qr         sql.NullBool
		)
		if err := rows.Scan(&r.ID, &r.EmployeeID, &r.Type, &r.Timestamp, &lat, &lng, &r.Address,
			&r.VerificationMethod, &confidence, &qr, &r.Notes, &r.OfflineSync); err != nil {
			return nil, fmt.Errorf("scan legacy record: %w", err)
		}
		if lat.Valid {
			r.Latitude = &lat.Float64
		}
		if lng.Valid {
			r.Longitude = &lng.Float64
		}
		if confidence.Valid {
			r.FaceConfidence = &confidence.Float64
		}
		if qr.Valid {
			r.QRVerified = &qr.Bool
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate legacy records: %w", err)
	}
	return result, nil
}
