package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rh360-attendance/internal/web/handlers"
	"github.com/kozaktomas/rh360-attendance/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	// Create handlers
	attendanceHandler := handlers.NewAttendanceHandler(s.deps.Router, s.deps.Engine, s.deps.Records, s.config.Attendance)
	employeesHandler := handlers.NewEmployeesHandler(s.deps.Enrollment, s.deps.Employees)
	healthHandler := handlers.NewHealthHandler(s.config.Attendance, s.deps.Gallery, s.deps.Embedder)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Get)

		// Kiosk endpoints
		r.Post("/attendance/facial", attendanceHandler.Facial)
		r.Post("/attendance/qr", attendanceHandler.QR)
		r.Post("/attendance/mark", attendanceHandler.Mark)
		r.Post("/attendance/sync", attendanceHandler.Sync)
		r.Get("/attendance/records", attendanceHandler.ListRecords)

		// Employees
		r.Get("/employees", employeesHandler.List)
		r.Post("/employees", employeesHandler.Create)
		r.Get("/employees/{id}", employeesHandler.Get)
		r.Put("/employees/{id}", employeesHandler.Update)
		r.Post("/employees/{id}/faces", employeesHandler.EnrollFaces)

		// Destructive operations require an admin token
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin([]byte(s.config.Web.AdminSecret)))

			r.Delete("/attendance/records/{id}", attendanceHandler.DeleteRecord)
			r.Delete("/employees/{id}", employeesHandler.Delete)
			r.Post("/employees/{id}/deactivate", employeesHandler.Deactivate)
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success": false, "error": "not found"}`))
	})
}
