package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"student-records-service/internal/http/handler"
	"student-records-service/internal/http/middleware"
	"student-records-service/internal/http/response"
)

// ReadinessCheck probes one dependency for /health/ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	StudentHandler   *handler.StudentHandler
	TaskHandler      *handler.TaskHandler
	Verifier         middleware.TokenVerifier
	CORSOrigins      []string
	APIRateLimitRPM  int
	AuthRateLimitRPM int
	MaxBodyBytes     int64
	ReadinessChecks  []ReadinessCheck
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	maxBody := dep.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	r.Use(middleware.BodyLimit(maxBody))
	r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())

	authLimiter := middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()
	authn := middleware.Auth(dep.Verifier)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{
			"service": "student-records-service",
			"status":  "ok",
		})
	})
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{}
		ready := true
		for _, probe := range dep.ReadinessChecks {
			if err := probe.Check(r.Context()); err != nil {
				checks[probe.Name] = err.Error()
				ready = false
				continue
			}
			checks[probe.Name] = "ok"
		}
		if !ready {
			response.Error(w, r, http.StatusServiceUnavailable, response.CodeUnavailable, "dependencies are not ready", checks)
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
	})

	r.Route("/auth", func(r chi.Router) {
		r.With(authLimiter).Post("/register", dep.AuthHandler.Register)
		r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
		r.With(authLimiter).Post("/refresh", dep.AuthHandler.Refresh)
		r.With(authn).Post("/logout", dep.AuthHandler.Logout)
	})

	r.Group(func(r chi.Router) {
		r.Use(authn)

		r.Get("/students", dep.StudentHandler.List)
		r.Get("/students/{id}", dep.StudentHandler.Get)
		r.Get("/students/faculty/{faculty}", dep.StudentHandler.ListByFaculty)
		r.Get("/courses/unique", dep.StudentHandler.Courses)
		r.Get("/faculty/{faculty}/average-score", dep.StudentHandler.AverageScore)
		r.Get("/courses/{course}/low-scores", dep.StudentHandler.LowScores)
		r.Get("/tasks/{id}", dep.TaskHandler.Get)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireWrite)
			r.Post("/students", dep.StudentHandler.Create)
			r.Put("/students/{id}", dep.StudentHandler.Update)
			r.Delete("/students/{id}", dep.StudentHandler.Delete)
			r.Post("/students/import-csv", dep.StudentHandler.ImportCSV)
			r.Post("/students/bulk-delete", dep.StudentHandler.BulkDelete)
		})
	})

	return r
}
