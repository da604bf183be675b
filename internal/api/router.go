package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/slotwise/booking-engine/internal/availability"
	"github.com/slotwise/booking-engine/internal/booking"
)

type RouterConfig struct {
	Service *booking.Service
	Rules   availability.RuleStore
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(IdentityMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Public: guest browsing and booking (anonymous bookings carry contact
	// fields instead of an identity header).
	r.Get("/hosts/{id}/slots", listHostSlotsHandler(cfg.Service))
	r.Post("/appointments", bookAppointmentHandler(cfg.Service))

	// Authenticated routes
	r.Group(func(pr chi.Router) {
		pr.Use(RequireAuth)

		pr.Post("/rules", createRuleHandler(cfg.Rules))
		pr.Get("/rules", listRulesHandler(cfg.Rules))
		pr.Delete("/rules/{id}", deactivateRuleHandler(cfg.Rules))
		pr.Post("/rules/{id}/generate", generateSlotsHandler(cfg.Service))

		pr.Get("/appointments/my", myAppointmentsHandler(cfg.Service))
		pr.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
		pr.Post("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Service))
		pr.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))
		pr.Post("/appointments/{id}/pay", payAppointmentHandler(cfg.Service))
	})

	return r
}
