package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rh360-attendance/internal/attendance"
	"github.com/kozaktomas/rh360-attendance/internal/biometric"
	"github.com/kozaktomas/rh360-attendance/internal/config"
	"github.com/kozaktomas/rh360-attendance/internal/database"
	"github.com/kozaktomas/rh360-attendance/internal/database/mock"
	"github.com/kozaktomas/rh360-attendance/internal/enrollment"
	"github.com/kozaktomas/rh360-attendance/internal/facematch"
	"github.com/kozaktomas/rh360-attendance/internal/reconcile"
)

var errTest = errors.New("test failure")

// testAttendanceConfig creates a minimal attendance config for testing
func testAttendanceConfig() config.AttendanceConfig {
	return config.AttendanceConfig{
		Profile:             "balanced",
		DuplicateTolerance:  5 * time.Minute,
		BaseTolerance:       0.5,
		MinConfidence:       0.5,
		ToleranceCeiling:    1.0,
		VerificationTimeout: 2 * time.Second,
		MinPhotos:           2,
		MaxReportedFailures: 10,
		Location:            time.UTC,
		FacialPolicy:        config.PolicyAccept,
		QRPolicy:            config.PolicyReject,
		ManualPolicy:        config.PolicyAccept,
	}
}

// fakeMatcher recognizes photos whose content is an employee ID
type fakeMatcher struct{}

func (fakeMatcher) Match(ctx context.Context, photo []byte) (*facematch.Match, error) {
	switch id := string(photo); id {
	case "unknown":
		return nil, facematch.ErrNoMatch
	case "slow":
		return nil, facematch.ErrTimeout
	default:
		return &facematch.Match{Candidate: facematch.Candidate{EmployeeID: id, Distance: 0.2, Confidence: 0.8}}, nil
	}
}

// fakeExtractor returns a fixed face unless the photo is "noface"
type fakeExtractor struct{}

func (fakeExtractor) ExtractFace(ctx context.Context, photo []byte) (*biometric.FaceDetection, error) {
	if string(photo) == "noface" {
		return nil, facematch.ErrNoFace
	}
	return &biometric.FaceDetection{Embedding: []float32{1, 0, 0}, DetScore: 0.95, Dim: 3}, nil
}

// testEnv wires handlers over an in-memory store
type testEnv struct {
	store      *mock.Store
	attendance *AttendanceHandler
	employees  *EmployeesHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testAttendanceConfig()
	store := mock.NewStore()
	store.AddEmployee(database.Employee{ID: "e-ana", RUT: "12345678-5", EmployeeCode: "EMP001", Name: "Ana María Pérez", Active: true})
	store.AddEmployee(database.Employee{ID: "e-bruno", RUT: "10000013-K", EmployeeCode: "EMP002", Name: "Bruno Soto", Active: true, HasFaceRegistered: true})
	store.AddEmployee(database.Employee{ID: "e-carla", RUT: "10000004-0", EmployeeCode: "EMP003", Name: "Carla Soto", Active: true})

	router := attendance.NewRouter(store, store, fakeMatcher{}, cfg)
	engine := reconcile.NewEngine(router, cfg.MaxReportedFailures)
	service := enrollment.NewService(store, store, fakeExtractor{}, "test", cfg.MinPhotos)

	return &testEnv{
		store:      store,
		attendance: NewAttendanceHandler(router, engine, store, cfg),
		employees:  NewEmployeesHandler(service, store),
	}
}

// photoURL encodes content as a JPEG data URL
func photoURL(content string) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte(content))
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%v'", expectedMessage, result["error"])
	}
}
