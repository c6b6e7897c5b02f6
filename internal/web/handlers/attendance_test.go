package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/rh360-attendance/internal/attendance"
	"github.com/kozaktomas/rh360-attendance/internal/database"
)

func TestAttendanceHandler_Facial_Success(t *testing.T) {
	env := newTestEnv(t)

	req := jsonRequest(t, "POST", "/api/v1/attendance/facial", map[string]any{
		"photo":     photoURL("e-ana"),
		"type":      "Entrada",
		"latitude":  -33.4372,
		"longitude": -70.6506,
		"address":   "Plaza de Armas",
	})
	recorder := httptest.NewRecorder()
	env.attendance.Facial(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "application/json")

	var resp VerificationResponse
	parseJSONResponse(t, recorder, &resp)
	if !resp.Success || resp.Status != attendance.StatusSuccess {
		t.Errorf("expected success, got %+v", resp)
	}
	if resp.Message != "ENTRADA REGISTRADA" {
		t.Errorf("unexpected message %q", resp.Message)
	}
	if resp.Record == nil || resp.Record.Method != database.MethodFacial || resp.Record.Location.Address != "Plaza de Armas" {
		t.Fatalf("unexpected record %+v", resp.Record)
	}
	if resp.Verification == nil || resp.Verification.Confidence != "80.0%" {
		t.Errorf("unexpected verification %+v", resp.Verification)
	}
	if resp.DuplicateFound {
		t.Error("first submission must not be a duplicate")
	}
}

func TestAttendanceHandler_Facial_DuplicateAccepted(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{"photo": photoURL("e-ana"), "type": "entrada"}

	first := httptest.NewRecorder()
	env.attendance.Facial(first, jsonRequest(t, "POST", "/api/v1/attendance/facial", body))
	assertStatusCode(t, first, http.StatusOK)

	second := httptest.NewRecorder()
	env.attendance.Facial(second, jsonRequest(t, "POST", "/api/v1/attendance/facial", body))
	assertStatusCode(t, second, http.StatusOK)

	var resp VerificationResponse
	parseJSONResponse(t, second, &resp)
	if resp.Status != attendance.StatusSuccessDuplicate || !resp.DuplicateFound || !resp.Success {
		t.Errorf("expected accepted duplicate, got %+v", resp)
	}
	if resp.ExistingRecord == nil || resp.Record != nil {
		t.Errorf("duplicate must carry only the existing record: %+v", resp)
	}
	if n := len(env.store.Records()); n != 1 {
		t.Errorf("expected 1 stored record, got %d", n)
	}
}

func TestAttendanceHandler_Facial_Failures(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantError  string
	}{
		{"missing photo", map[string]any{"type": "entrada"}, http.StatusBadRequest, "Field 'photo' is required"},
		{"empty body", nil, http.StatusBadRequest, "Request body is empty"},
		{"malformed json", `{"photo": `, http.StatusBadRequest, "Request body is truncated"},
		{"wrong type", `{"photo": 42}`, http.StatusBadRequest, "Field 'photo' should be of type string"},
		{"latitude out of range", map[string]any{"photo": photoURL("e-ana"), "latitude": 100}, http.StatusBadRequest,
			"Field 'latitude' must be less than or equal to 90"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			recorder := httptest.NewRecorder()
			env.attendance.Facial(recorder, jsonRequest(t, "POST", "/api/v1/attendance/facial", tt.body))

			assertStatusCode(t, recorder, tt.wantStatus)
			assertJSONError(t, recorder, tt.wantError)
		})
	}
}

func TestAttendanceHandler_Facial_Outcomes(t *testing.T) {
	tests := []struct {
		photo      string
		wantStatus int
		want       attendance.Status
	}{
		{"unknown", http.StatusBadRequest, attendance.StatusNoMatch},
		{"slow", http.StatusGatewayTimeout, attendance.StatusTimeout},
		{"e-ghost", http.StatusNotFound, attendance.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.photo, func(t *testing.T) {
			env := newTestEnv(t)
			recorder := httptest.NewRecorder()
			env.attendance.Facial(recorder, jsonRequest(t, "POST", "/api/v1/attendance/facial",
				map[string]any{"photo": photoURL(tt.photo)}))

			assertStatusCode(t, recorder, tt.wantStatus)
			var resp VerificationResponse
			parseJSONResponse(t, recorder, &resp)
			if resp.Status != tt.want || resp.Success {
				t.Errorf("expected %s, got %+v", tt.want, resp)
			}
			if len(env.store.Records()) != 0 {
				t.Error("failed verification must not create records")
			}
		})
	}
}

func TestAttendanceHandler_Facial_InvalidPhoto(t *testing.T) {
	env := newTestEnv(t)
	recorder := httptest.NewRecorder()
	env.attendance.Facial(recorder, jsonRequest(t, "POST", "/api/v1/attendance/facial",
		map[string]any{"photo": "data:image/png,notbase64"}))

	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestAttendanceHandler_QR(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{"qr_data": "https://portal.sidiv.registrocivil.cl/docstatus?RUN=12345678-5&type=CEDULA", "type": "entrada"}

	first := httptest.NewRecorder()
	env.attendance.QR(first, jsonRequest(t, "POST", "/api/v1/attendance/qr", body))
	assertStatusCode(t, first, http.StatusOK)

	var resp VerificationResponse
	parseJSONResponse(t, first, &resp)
	if resp.Record == nil || resp.Record.QRVerified == nil || !*resp.Record.QRVerified {
		t.Errorf("expected QR verified record, got %+v", resp.Record)
	}
	if resp.Verification == nil || resp.Verification.RUT != "12345678-5" {
		t.Errorf("expected RUT in verification, got %+v", resp.Verification)
	}

	second := httptest.NewRecorder()
	env.attendance.QR(second, jsonRequest(t, "POST", "/api/v1/attendance/qr", body))
	assertStatusCode(t, second, http.StatusConflict)

	parseJSONResponse(t, second, &resp)
	if resp.Status != attendance.StatusRejectedDuplicate || !resp.DuplicateFound || resp.Success {
		t.Errorf("expected rejected duplicate, got %+v", resp)
	}
	if resp.ExistingRecord == nil || resp.ExistingRecord.Type != "entrada" {
		t.Errorf("expected existing record, got %+v", resp.ExistingRecord)
	}
	if !strings.HasPrefix(resp.Message, "Ya existe una ENTRADA registrada a las ") {
		t.Errorf("unexpected message %q", resp.Message)
	}
}

func TestAttendanceHandler_QR_Failures(t *testing.T) {
	tests := []struct {
		name       string
		qr         string
		wantStatus int
		want       attendance.Status
	}{
		{"bad check digit", "12345678-9", http.StatusBadRequest, attendance.StatusInvalidIdentity},
		{"no identity", "hola mundo", http.StatusBadRequest, attendance.StatusNoIdentity},
		{"unknown employee", `{"rut": "11111111-1"}`, http.StatusNotFound, attendance.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			recorder := httptest.NewRecorder()
			env.attendance.QR(recorder, jsonRequest(t, "POST", "/api/v1/attendance/qr", map[string]any{"qr_data": tt.qr}))

			assertStatusCode(t, recorder, tt.wantStatus)
			var resp VerificationResponse
			parseJSONResponse(t, recorder, &resp)
			if resp.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, resp.Status)
			}
		})
	}
}

func TestAttendanceHandler_Mark(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
		want       attendance.Status
		wantMethod database.VerificationMethod
	}{
		{"by code", map[string]any{"employee_id": "EMP003"}, http.StatusOK, attendance.StatusSuccess, database.MethodManual},
		{"by rut", map[string]any{"employee_id": "10.000.013-k"}, http.StatusOK, attendance.StatusSuccess, database.MethodManual},
		{"by unique name", map[string]any{"employee_name": "carla"}, http.StatusOK, attendance.StatusSuccess, database.MethodManual},
		{"ambiguous name", map[string]any{"employee_name": "Soto"}, http.StatusBadRequest, attendance.StatusAmbiguous, database.MethodManual},
		{"nothing", map[string]any{"type": "salida"}, http.StatusBadRequest, attendance.StatusInvalidRequest, database.MethodManual},
		{"photo wins", map[string]any{"photo": photoURL("e-ana"), "employee_id": "EMP003"}, http.StatusOK, attendance.StatusSuccess, database.MethodFacial},
		{"qr before manual", map[string]any{"qr_data": "10000004-0", "employee_id": "EMP001"}, http.StatusOK, attendance.StatusSuccess, database.MethodQR},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			recorder := httptest.NewRecorder()
			env.attendance.Mark(recorder, jsonRequest(t, "POST", "/api/v1/attendance/mark", tt.body))

			assertStatusCode(t, recorder, tt.wantStatus)
			var resp VerificationResponse
			parseJSONResponse(t, recorder, &resp)
			if resp.Status != tt.want {
				t.Errorf("expected %s, got %s (%s)", tt.want, resp.Status, resp.Message)
			}
			if resp.Record != nil && resp.Record.Method != tt.wantMethod {
				t.Errorf("expected method %s, got %s", tt.wantMethod, resp.Record.Method)
			}
		})
	}
}

func TestAttendanceHandler_Mark_Offline(t *testing.T) {
	env := newTestEnv(t)
	recorder := httptest.NewRecorder()
	env.attendance.Mark(recorder, jsonRequest(t, "POST", "/api/v1/attendance/mark", map[string]any{
		"employee_id":       "EMP001",
		"type":              "salida",
		"is_offline_sync":   true,
		"offline_timestamp": "2025-01-15T18:02:00Z",
	}))
	assertStatusCode(t, recorder, http.StatusOK)

	var resp VerificationResponse
	parseJSONResponse(t, recorder, &resp)
	want := time.Date(2025, 1, 15, 18, 2, 0, 0, time.UTC)
	if resp.Record == nil || !resp.Record.Timestamp.Equal(want) || !resp.Record.OfflineSync {
		t.Fatalf("expected offline record at %s, got %+v", want, resp.Record)
	}
	if resp.Record.Notes != attendance.NotesManual {
		t.Errorf("unexpected notes %q", resp.Record.Notes)
	}
}

func TestAttendanceHandler_Sync(t *testing.T) {
	env := newTestEnv(t)
	body := `{"offline_records": [
		{"local_id": "k1", "employee_id": "EMP001", "type": "entrada", "timestamp": "2025-01-15T08:30:00"},
		{"local_id": "k2", "employee_id": "EMP404", "type": "entrada", "timestamp": "2025-01-15T08:31:00"},
		{"local_id": "k3", "qr_data": "10000013-K", "type": "entrada", "timestamp": "2025-01-15T08:32:00"},
		{"local_id": "k4", "employee_id": "EMP001", "type": "entrada", "timestamp": "2025-01-15T08:33:00"}
	]}`

	recorder := httptest.NewRecorder()
	env.attendance.Sync(recorder, jsonRequest(t, "POST", "/api/v1/attendance/sync", body))
	assertStatusCode(t, recorder, http.StatusOK)

	var resp SyncResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Synced != 2 || resp.Failed != 1 || resp.Duplicates != 1 || resp.Submitted != 4 {
		t.Errorf("unexpected report %+v", resp.Report)
	}
	if len(resp.Failures) != 1 || resp.Failures[0].LocalID != "k2" || resp.Failures[0].Status != attendance.StatusNotFound {
		t.Errorf("unexpected failures %+v", resp.Failures)
	}
	if resp.Message != "Sincronizados 2 de 4 registros" {
		t.Errorf("unexpected message %q", resp.Message)
	}
	for _, r := range env.store.Records() {
		if !r.OfflineSync {
			t.Errorf("record %s should be flagged offline", r.ID)
		}
	}
}

func TestAttendanceHandler_Sync_ClientGone(t *testing.T) {
	env := newTestEnv(t)
	body := `{"offline_records": [
		{"local_id": "g1", "employee_id": "EMP001", "type": "entrada", "timestamp": "2025-01-15T08:30:00"},
		{"local_id": "g2", "employee_id": "EMP002", "type": "entrada", "timestamp": "2025-01-15T08:31:00"}
	]}`

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := jsonRequest(t, "POST", "/api/v1/attendance/sync", body).WithContext(ctx)

	recorder := httptest.NewRecorder()
	env.attendance.Sync(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)

	var resp SyncResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Synced != 2 || resp.Skipped != 0 || len(resp.SkippedIDs) != 0 {
		t.Errorf("unexpected report %+v", resp.Report)
	}
	if len(resp.Results) != 2 || resp.Results[0].LocalID != "g1" || resp.Results[1].LocalID != "g2" {
		t.Errorf("unexpected results %+v", resp.Results)
	}
	if got := len(env.store.Records()); got != 2 {
		t.Errorf("expected 2 stored records, got %d", got)
	}
}

func TestAttendanceHandler_Sync_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty list", `{"offline_records": []}`},
		{"invalid json", `{"offline_records": [`},
		{"empty body", ``},
		{"invalid item", `{"offline_records": [{"employee_id": "EMP001", "latitude": -200}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			recorder := httptest.NewRecorder()
			env.attendance.Sync(recorder, jsonRequest(t, "POST", "/api/v1/attendance/sync", tt.body))
			assertStatusCode(t, recorder, http.StatusBadRequest)
		})
	}
}

func TestAttendanceHandler_ListRecords(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	confidence := 0.9
	env.store.AddRecord(database.AttendanceRecord{ID: "r1", EmployeeID: "e-ana", Type: "entrada", Timestamp: now.Add(-time.Hour), Method: database.MethodFacial, FaceConfidence: &confidence})
	env.store.AddRecord(database.AttendanceRecord{ID: "r2", EmployeeID: "e-ana", Type: "salida", Timestamp: now.Add(-30 * time.Minute), Method: database.MethodManual})
	env.store.AddRecord(database.AttendanceRecord{ID: "r3", EmployeeID: "e-bruno", Type: "entrada", Timestamp: now.Add(-2 * time.Hour), Method: database.MethodQR})
	env.store.AddRecord(database.AttendanceRecord{ID: "old", EmployeeID: "e-bruno", Type: "entrada", Timestamp: now.AddDate(0, 0, -30), Method: database.MethodQR})

	recorder := httptest.NewRecorder()
	env.attendance.ListRecords(recorder, httptest.NewRequest("GET", "/api/v1/attendance/records?days=7&limit=2", nil))
	assertStatusCode(t, recorder, http.StatusOK)

	var resp RecordsResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Count != 2 || len(resp.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(resp.Records))
	}
	if resp.Records[0].ID != "r2" {
		t.Errorf("expected newest first, got %s", resp.Records[0].ID)
	}
	if resp.Records[0].EmployeeName != "Ana María Pérez" {
		t.Errorf("expected employee name, got %q", resp.Records[0].EmployeeName)
	}
	if resp.Stats.Total != 3 || resp.Stats.Facial != 1 || resp.Stats.QR != 1 || resp.Stats.Manual != 1 {
		t.Errorf("statistics must ignore the limit: %+v", resp.Stats)
	}

	recorder = httptest.NewRecorder()
	env.attendance.ListRecords(recorder, httptest.NewRequest("GET", "/api/v1/attendance/records?employee_id=e-bruno&days=60", nil))
	parseJSONResponse(t, recorder, &resp)
	if resp.Count != 2 || resp.Stats.QR != 2 {
		t.Errorf("unexpected employee filter result %+v", resp.Stats)
	}
}

func TestAttendanceHandler_ListRecords_BadParams(t *testing.T) {
	env := newTestEnv(t)
	for _, q := range []string{"days=0", "days=abc", "limit=-1"} {
		recorder := httptest.NewRecorder()
		env.attendance.ListRecords(recorder, httptest.NewRequest("GET", "/api/v1/attendance/records?"+q, nil))
		assertStatusCode(t, recorder, http.StatusBadRequest)
	}
}

func TestAttendanceHandler_ListRecords_StoreError(t *testing.T) {
	env := newTestEnv(t)
	env.store.ListRecordsError = errTest

	recorder := httptest.NewRecorder()
	env.attendance.ListRecords(recorder, httptest.NewRequest("GET", "/api/v1/attendance/records", nil))
	assertStatusCode(t, recorder, http.StatusInternalServerError)
}

func TestAttendanceHandler_DeleteRecord(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddRecord(database.AttendanceRecord{ID: "r1", EmployeeID: "e-ana", Type: "entrada", Timestamp: time.Now(), Method: database.MethodManual})

	recorder := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest("DELETE", "/api/v1/attendance/records/r1", nil), map[string]string{"id": "r1"})
	env.attendance.DeleteRecord(recorder, req)
	assertStatusCode(t, recorder, http.StatusOK)
	if len(env.store.Records()) != 0 {
		t.Error("record should be deleted")
	}

	recorder = httptest.NewRecorder()
	env.attendance.DeleteRecord(recorder, req)
	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "record not found")
}
