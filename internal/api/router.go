package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

type RouterConfig struct {
	Service *appointment.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	svc := cfg.Service
	r.Route("/clinics/{clinicID}", func(r chi.Router) {
		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", createAppointmentHandler(svc))
			r.Get("/", listAppointmentsHandler(svc))
			r.Get("/{id}", getAppointmentHandler(svc))
			r.Patch("/{id}", updateAppointmentHandler(svc))
			r.Delete("/{id}", deleteAppointmentHandler(svc))
			r.Post("/{id}/status", changeStatusHandler(svc))
			r.Post("/{id}/cancel", cancelAppointmentHandler(svc))
			r.Get("/{id}/events", listStatusEventsHandler(svc))
		})

		r.Get("/providers/{providerID}/availability", availabilityHandler(svc))
		r.Post("/providers/{providerID}/blocked-slots", createBlockedSlotHandler(svc))
		r.Get("/providers/{providerID}/blocked-slots", listBlockedSlotsHandler(svc))
		r.Delete("/blocked-slots/{id}", deleteBlockedSlotHandler(svc))
	})

	return r
}
