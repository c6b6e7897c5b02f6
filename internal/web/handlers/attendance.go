package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rh360-attendance/internal/attendance"
	"github.com/kozaktomas/rh360-attendance/internal/biometric"
	"github.com/kozaktomas/rh360-attendance/internal/config"
	"github.com/kozaktomas/rh360-attendance/internal/constants"
	"github.com/kozaktomas/rh360-attendance/internal/database"
	"github.com/kozaktomas/rh360-attendance/internal/reconcile"
	"github.com/kozaktomas/rh360-attendance/internal/web/middleware"
)

// AttendanceHandler handles attendance endpoints
type AttendanceHandler struct {
	router  *attendance.Router
	engine  *reconcile.Engine
	records database.RecordWriter
	loc     *time.Location
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(
	router *attendance.Router,
	engine *reconcile.Engine,
	records database.RecordWriter,
	cfg config.AttendanceConfig,
) *AttendanceHandler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &AttendanceHandler{router: router, engine: engine, records: records, loc: loc}
}

// locationFields are the optional capture coordinates of a submission.
type locationFields struct {
	Latitude  *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	Address   string   `json:"address" validate:"max=500"`
}

func (l locationFields) location() database.Location {
	return database.Location{Latitude: l.Latitude, Longitude: l.Longitude, Address: strings.TrimSpace(l.Address)}
}

// FacialRequest represents a facial verification request
type FacialRequest struct {
	Photo string `json:"photo" validate:"required"`
	Type  string `json:"type" validate:"max=50"`
	locationFields
}

// QRRequest represents a QR verification request
type QRRequest struct {
	QRData string `json:"qr_data" validate:"required,max=4096"`
	Type   string `json:"type" validate:"max=50"`
	locationFields
}

// MarkRequest represents a generic attendance submission. The channel is
// chosen by the first present of photo, qr_data, employee_id/employee_name.
type MarkRequest struct {
	Photo            string `json:"photo"`
	QRData           string `json:"qr_data" validate:"max=4096"`
	EmployeeID       string `json:"employee_id" validate:"max=100"`
	EmployeeName     string `json:"employee_name" validate:"max=200"`
	Type             string `json:"type" validate:"max=50"`
	Notes            string `json:"notes" validate:"max=1000"`
	IsOfflineSync    bool   `json:"is_offline_sync"`
	OfflineTimestamp string `json:"offline_timestamp" validate:"max=64"`
	locationFields
}

// VerificationInfo describes how an identity was established
type VerificationInfo struct {
	Method     database.VerificationMethod `json:"method"`
	Confidence string                      `json:"confidence,omitempty"`
	Distance   *float64                    `json:"distance,omitempty"`
	ElapsedMS  int64                       `json:"elapsed_ms,omitempty"`
	RUT        string                      `json:"rut,omitempty"`
}

// VerificationResponse is returned by all verification endpoints
type VerificationResponse struct {
	Success        bool                       `json:"success"`
	Status         attendance.Status          `json:"status"`
	Message        string                     `json:"message"`
	Employee       *database.Employee         `json:"employee,omitempty"`
	Record         *database.AttendanceRecord `json:"record,omitempty"`
	ExistingRecord *database.AttendanceRecord `json:"existing_record,omitempty"`
	Verification   *VerificationInfo          `json:"verification,omitempty"`
	DuplicateFound bool                       `json:"duplicate_found"`
}

// Facial handles POST /api/v1/attendance/facial
func (h *AttendanceHandler) Facial(w http.ResponseWriter, r *http.Request) {
	var req FacialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	photo, err := biometric.DecodeDataURL(req.Photo)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid photo: "+err.Error())
		return
	}

	h.respondOutcome(w, h.router.VerifyFacial(r.Context(), attendance.Event{
		Photo:    photo,
		Type:     req.Type,
		Location: req.location(),
	}))
}

// QR handles POST /api/v1/attendance/qr
func (h *AttendanceHandler) QR(w http.ResponseWriter, r *http.Request) {
	var req QRRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondOutcome(w, h.router.VerifyQR(r.Context(), attendance.Event{
		QRData:   req.QRData,
		Type:     req.Type,
		Location: req.location(),
	}))
}

// Mark handles POST /api/v1/attendance/mark
func (h *AttendanceHandler) Mark(w http.ResponseWriter, r *http.Request) {
	var req MarkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var photo []byte
	if strings.TrimSpace(req.Photo) != "" {
		var err error
		if photo, err = biometric.DecodeDataURL(req.Photo); err != nil {
			respondError(w, http.StatusBadRequest, "invalid photo: "+err.Error())
			return
		}
	}

	h.respondOutcome(w, h.router.Verify(r.Context(), attendance.Event{
		Photo:            photo,
		QRData:           req.QRData,
		Identifier:       req.EmployeeID,
		Name:             req.EmployeeName,
		Type:             req.Type,
		Location:         req.location(),
		Notes:            req.Notes,
		OfflineSync:      req.IsOfflineSync,
		OfflineTimestamp: req.OfflineTimestamp,
	}))
}

// SyncResponse wraps the reconciliation report
type SyncResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	reconcile.Report
}

// Sync handles POST /api/v1/attendance/sync
func (h *AttendanceHandler) Sync(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	batch, err := reconcile.ParseBatch(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, FormatBindingError(err))
		return
	}
	if err := validate.Struct(batch); err != nil {
		respondError(w, http.StatusBadRequest, FormatBindingError(err))
		return
	}
	if len(batch.OfflineRecords) == 0 {
		respondError(w, http.StatusBadRequest, "no offline records provided")
		return
	}
	if len(batch.OfflineRecords) > constants.MaxSyncBatch {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("batch has %d records, at most %d are accepted", len(batch.OfflineRecords), constants.MaxSyncBatch))
		return
	}

	// A disconnecting kiosk must not abort events already being stored.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), constants.SyncBudget)
	defer cancel()

	report := h.engine.Reconcile(ctx, batch.Events())
	log.Printf("Offline sync: %d submitted, %d synced, %d duplicates, %d failed, %d skipped",
		report.Submitted, report.Synced, report.Duplicates, report.Failed, report.Skipped)

	message := fmt.Sprintf("Sincronizados %d de %d registros", report.Synced, report.Submitted)
	if report.Skipped > 0 {
		message += fmt.Sprintf(", %d pendientes de reenvío", report.Skipped)
	}
	respondJSON(w, http.StatusOK, SyncResponse{
		Success: true,
		Message: message,
		Report:  report,
	})
}

// RecordsResponse is returned by the records listing
type RecordsResponse struct {
	Success bool                        `json:"success"`
	Records []database.AttendanceRecord `json:"records"`
	Count   int                         `json:"count"`
	Stats   RecordStats                 `json:"statistics"`
}

// RecordStats counts all records of the window, not only the returned page
type RecordStats struct {
	Total  int `json:"total_records"`
	Facial int `json:"facial_records"`
	QR     int `json:"qr_records"`
	Manual int `json:"manual_records"`
	Days   int `json:"days"`
}

// ListRecords handles GET /api/v1/attendance/records
func (h *AttendanceHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", constants.DefaultRecordsDays)
	if err != nil || days <= 0 {
		respondError(w, http.StatusBadRequest, "days must be a positive integer")
		return
	}
	limit, err := queryInt(r, "limit", constants.DefaultRecordsLimit)
	if err != nil || limit <= 0 {
		respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	limit = min(limit, constants.MaxRecordsLimit)

	filter := database.RecordFilter{
		EmployeeID: strings.TrimSpace(r.URL.Query().Get("employee_id")),
		Since:      time.Now().AddDate(0, 0, -days),
	}
	counts, err := h.records.CountRecordsByMethod(r.Context(), filter)
	if err != nil {
		log.Printf("Failed to count records: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to count records")
		return
	}
	filter.Limit = limit
	records, err := h.records.ListRecords(r.Context(), filter)
	if err != nil {
		log.Printf("Failed to list records: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if records == nil {
		records = []database.AttendanceRecord{}
	}

	stats := RecordStats{
		Facial: counts[database.MethodFacial],
		QR:     counts[database.MethodQR],
		Manual: counts[database.MethodManual],
		Days:   days,
	}
	stats.Total = stats.Facial + stats.QR + stats.Manual

	respondJSON(w, http.StatusOK, RecordsResponse{
		Success: true,
		Records: records,
		Count:   len(records),
		Stats:   stats,
	})
}

// DeleteRecord handles DELETE /api/v1/attendance/records/{id}
func (h *AttendanceHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.records.DeleteRecord(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "record not found")
			return
		}
		log.Printf("Failed to delete record %s: %v", sanitizeForLog(id), err)
		respondError(w, http.StatusInternalServerError, "failed to delete record")
		return
	}
	log.Printf("Record %s deleted by %s", sanitizeForLog(id), sanitizeForLog(middleware.GetAdminFromContext(r.Context())))
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": id})
}

func (h *AttendanceHandler) respondOutcome(w http.ResponseWriter, out attendance.Outcome) {
	resp := VerificationResponse{
		Success:        out.Accepted(),
		Status:         out.Status,
		Employee:       out.Employee,
		DuplicateFound: out.Duplicate(),
	}
	if out.Duplicate() {
		resp.ExistingRecord = out.Record
	} else {
		resp.Record = out.Record
	}

	switch {
	case out.Accepted() && out.Record != nil:
		resp.Message = strings.ToUpper(out.Record.Type) + " REGISTRADA"
		resp.Verification = h.verificationInfo(out)
	case out.Status == attendance.StatusRejectedDuplicate && out.Record != nil:
		resp.Message = fmt.Sprintf("Ya existe una %s registrada a las %s",
			strings.ToUpper(out.Record.Type), out.Record.Timestamp.In(h.loc).Format("15:04"))
		resp.Verification = h.verificationInfo(out)
	default:
		resp.Message = out.Message()
	}

	if out.Status == attendance.StatusSystemError {
		log.Printf("Attendance %s failed: %v", out.Channel, out.Err)
		resp.Message = "internal error"
	}
	respondJSON(w, statusCode(out.Status), resp)
}

func (h *AttendanceHandler) verificationInfo(out attendance.Outcome) *VerificationInfo {
	info := &VerificationInfo{Method: out.Channel, RUT: out.RUT}
	if out.Match != nil {
		distance := out.Match.Distance
		info.Distance = &distance
		info.Confidence = fmt.Sprintf("%.1f%%", out.Match.Confidence*100)
		info.ElapsedMS = out.Match.Elapsed.Milliseconds()
	}
	return info
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}
