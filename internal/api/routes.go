package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, hc *HealthChecker) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Health checks (no /api prefix so probes stay stable)
	r.Get("/health", hc.HandleHealth)
	r.Get("/health/live", hc.HandleLiveness)
	r.Get("/health/ready", hc.HandleReadiness)

	r.Route("/api", func(r chi.Router) {
		r.Route("/analytics", func(r chi.Router) {
			// Jobs
			r.Post("/jobs", h.StartBackfillJob)
			r.Post("/jobs/daily", h.StartDailyJob)

			// Run reports
			r.Get("/runs", h.ListRuns)
			r.Get("/runs/{runID}", h.GetRun)

			// Resolved working-hours calendars
			r.Get("/schedules", h.ListSchedules)
			r.Get("/schedules/{userID}", h.GetUserSchedule)
		})

		// System routes
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", h.GetSystemStatus)
		})
	})

	return r
}
