package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rh360-attendance/internal/biometric"
	"github.com/kozaktomas/rh360-attendance/internal/database"
	"github.com/kozaktomas/rh360-attendance/internal/enrollment"
	"github.com/kozaktomas/rh360-attendance/internal/facematch"
	"github.com/kozaktomas/rh360-attendance/internal/web/middleware"
)

// EmployeesHandler handles employee endpoints
type EmployeesHandler struct {
	service   *enrollment.Service
	employees database.EmployeeReader
}

// NewEmployeesHandler creates a new employees handler
func NewEmployeesHandler(service *enrollment.Service, employees database.EmployeeReader) *EmployeesHandler {
	return &EmployeesHandler{service: service, employees: employees}
}

// CreateEmployeeRequest represents a basic employee registration
type CreateEmployeeRequest struct {
	Name         string `json:"name" validate:"required,max=200"`
	RUT          string `json:"rut" validate:"required,max=20"`
	EmployeeCode string `json:"employee_id" validate:"max=50"`
	Email        string `json:"email" validate:"omitempty,email,max=254"`
	Department   string `json:"department" validate:"max=100"`
	Position     string `json:"position" validate:"max=100"`
}

// UpdateEmployeeRequest represents a profile update; omitted fields are kept
type UpdateEmployeeRequest struct {
	Name       *string `json:"name" validate:"omitempty,max=200"`
	RUT        *string `json:"rut" validate:"omitempty,max=20"`
	Email      *string `json:"email" validate:"omitempty,max=254"`
	Department *string `json:"department" validate:"omitempty,max=100"`
	Position   *string `json:"position" validate:"omitempty,max=100"`
}

// EnrollFacesRequest carries the reference photos as base64 data URLs
type EnrollFacesRequest struct {
	Photos []string `json:"photos" validate:"required,min=1,max=20,dive,required"`
}

// EmployeeResponse wraps a single employee
type EmployeeResponse struct {
	Success        bool               `json:"success"`
	Message        string             `json:"message,omitempty"`
	Employee       *database.Employee `json:"employee"`
	PhotosRequired int                `json:"photos_required,omitempty"`
}

// EmployeesListResponse is returned by the employee listing
type EmployeesListResponse struct {
	Success              bool                `json:"success"`
	Employees            []database.Employee `json:"employees"`
	Count                int                 `json:"count"`
	EmployeesWithFaces   int                 `json:"employees_with_faces"`
	FaceRegistrationRate string              `json:"face_registration_rate"`
	PhotosRequired       int                 `json:"photos_required"`
}

// Create handles POST /api/v1/employees
func (h *EmployeesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	emp, err := h.service.Register(r.Context(), enrollment.Registration{
		Name:         req.Name,
		RUT:          req.RUT,
		EmployeeCode: req.EmployeeCode,
		Email:        req.Email,
		Department:   req.Department,
		Position:     req.Position,
	})
	if err != nil {
		respondServiceError(w, err, "register employee")
		return
	}

	respondJSON(w, http.StatusCreated, EmployeeResponse{
		Success:        true,
		Message:        fmt.Sprintf("Empleado %s registrado", emp.Name),
		Employee:       emp,
		PhotosRequired: h.service.MinPhotos(),
	})
}

// List handles GET /api/v1/employees
func (h *EmployeesHandler) List(w http.ResponseWriter, r *http.Request) {
	employees, err := h.employees.ListEmployees(r.Context(), true)
	if err != nil {
		log.Printf("Failed to list employees: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list employees")
		return
	}
	if employees == nil {
		employees = []database.Employee{}
	}

	withFaces := 0
	for _, e := range employees {
		if e.HasFaceRegistered {
			withFaces++
		}
	}
	rate := "0%"
	if len(employees) > 0 {
		rate = fmt.Sprintf("%.1f%%", float64(withFaces)/float64(len(employees))*100)
	}

	respondJSON(w, http.StatusOK, EmployeesListResponse{
		Success:              true,
		Employees:            employees,
		Count:                len(employees),
		EmployeesWithFaces:   withFaces,
		FaceRegistrationRate: rate,
		PhotosRequired:       h.service.MinPhotos(),
	})
}

// Get handles GET /api/v1/employees/{id}
func (h *EmployeesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	emp, err := h.employees.GetEmployee(r.Context(), id)
	if err != nil {
		log.Printf("Failed to get employee %s: %v", sanitizeForLog(id), err)
		respondError(w, http.StatusInternalServerError, "failed to get employee")
		return
	}
	if emp == nil {
		respondError(w, http.StatusNotFound, "employee not found")
		return
	}
	respondJSON(w, http.StatusOK, EmployeeResponse{Success: true, Employee: emp})
}

// Update handles PUT /api/v1/employees/{id}
func (h *EmployeesHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateEmployeeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	emp, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), enrollment.Changes{
		Name:       req.Name,
		RUT:        req.RUT,
		Email:      req.Email,
		Department: req.Department,
		Position:   req.Position,
	})
	if err != nil {
		respondServiceError(w, err, "update employee")
		return
	}
	respondJSON(w, http.StatusOK, EmployeeResponse{Success: true, Message: "Empleado actualizado", Employee: emp})
}

// EnrollFaces handles POST /api/v1/employees/{id}/faces
func (h *EmployeesHandler) EnrollFaces(w http.ResponseWriter, r *http.Request) {
	var req EnrollFacesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Photos) != h.service.MinPhotos() {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("exactly %d photos are required, got %d", h.service.MinPhotos(), len(req.Photos)))
		return
	}

	photos := make([][]byte, len(req.Photos))
	for i, p := range req.Photos {
		data, err := biometric.DecodeDataURL(p)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("photo %d: %v", i+1, err))
			return
		}
		photos[i] = data
	}

	res, err := h.service.EnrollFaces(r.Context(), chi.URLParam(r, "id"), photos)
	if err != nil {
		respondServiceError(w, err, "enroll faces")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       fmt.Sprintf("Rostro de %s registrado exitosamente", res.Employee.Name),
		"employee":      res.Employee,
		"faces":         res.Faces,
		"avg_det_score": res.AvgDetScore,
	})
}

// Delete handles DELETE /api/v1/employees/{id}
func (h *EmployeesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.Delete(r.Context(), id); err != nil {
		respondServiceError(w, err, "delete employee")
		return
	}
	log.Printf("Employee %s deleted by %s", sanitizeForLog(id), sanitizeForLog(middleware.GetAdminFromContext(r.Context())))
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": id})
}

// Deactivate handles POST /api/v1/employees/{id}/deactivate
func (h *EmployeesHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	emp, err := h.service.Deactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err, "deactivate employee")
		return
	}
	respondJSON(w, http.StatusOK, EmployeeResponse{Success: true, Message: "Empleado desactivado", Employee: emp})
}

// respondServiceError maps enrollment and storage errors to HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error, action string) {
	var photoErr *enrollment.PhotoError
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "employee not found")
	case errors.Is(err, database.ErrDuplicateRUT):
		respondError(w, http.StatusConflict, database.ErrDuplicateRUT.Error())
	case errors.Is(err, enrollment.ErrInvalidRUT), errors.Is(err, enrollment.ErrNameRequired),
		errors.Is(err, enrollment.ErrPhotoCount):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &photoErr) && (errors.Is(err, facematch.ErrNoFace) || errors.Is(err, biometric.ErrEmptyPhoto)):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("Failed to %s: %v", action, err)
		respondError(w, http.StatusInternalServerError, "failed to "+action)
	}
}
