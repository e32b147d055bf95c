package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/booking"
	"github.com/hackgods/clinic-appointments/internal/gateway"
	"github.com/hackgods/clinic-appointments/internal/profile"
	"github.com/hackgods/clinic-appointments/internal/session"
)

type RouterConfig struct {
	Sessions *session.Manager
	Booking  *booking.Controller
	Store    *appointment.Store
	Profiles *profile.Service
	Blobs    gateway.BlobStore
	Postgres Pinger
	Redis    *redis.Client
	Logger   *zap.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Post("/auth/signup", signUpHandler(cfg.Sessions))
	r.Post("/auth/signin", signInHandler(cfg.Sessions))
	r.Get("/files/*", filesHandler(cfg.Blobs))

	r.Group(func(r chi.Router) {
		r.Use(RequireSession(cfg.Sessions))

		r.Post("/auth/signout", signOutHandler(cfg.Sessions))
		r.Get("/auth/me", meHandler(cfg.Profiles))

		r.Get("/appointments", listAppointmentsHandler(cfg.Booking))
		r.Post("/appointments", createAppointmentHandler(cfg.Booking))
		r.Put("/appointments/{id}", updateAppointmentHandler(cfg.Booking))
		r.Delete("/appointments/{id}", deleteAppointmentHandler(cfg.Booking))

		r.Get("/calendar", calendarHandler(cfg.Booking))
		r.Get("/slots", slotsHandler(cfg.Booking))
		r.Get("/patients", patientsHandler(cfg.Profiles))

		r.Get("/profiles/{uid}", getProfileHandler(cfg.Profiles))
		r.Put("/profiles/{uid}", updateProfileHandler(cfg.Profiles))
		r.Put("/profiles/{uid}/picture", uploadPictureHandler(cfg.Profiles))

		r.Get("/ws/appointments", appointmentFeedHandler(cfg.Store, cfg.Logger))
	})

	return r
}
