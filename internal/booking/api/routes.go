package api

import (
	"expvar"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"service-dispatch/internal/shared/jwt"
	"service-dispatch/internal/shared/middleware"
)

type RouterConfig struct {
	ServiceName    string
	RequestTimeout time.Duration
	Health         http.Handler
}

func (h *Handler) Routes(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(h.log))
	r.Use(chimw.Recoverer)

	if cfg.Health != nil {
		r.Method(http.MethodGet, "/health", cfg.Health)
	}
	r.Method(http.MethodGet, "/metrics", expvar.Handler())
	// long-lived, so outside the request timeout
	r.Get("/ws/rooms/{room}", h.RoomWS)

	r.Group(func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(chimw.Timeout(cfg.RequestTimeout))
		}
		r.Use(h.Authenticate)

		r.Route("/bookings/{id}", func(r chi.Router) {
			r.Get("/", h.GetBooking)
			r.Patch("/status", h.UpdateBookingStatus)
			r.With(RequireRole(jwt.RoleAdmin)).Post("/assign", h.AssignProvider)
		})

		r.Route("/providers/{id}", func(r chi.Router) {
			r.With(RequireRole(jwt.RoleAdmin)).Patch("/verify", h.VerifyProvider)
			r.Patch("/pause", h.PauseProvider)
			r.Patch("/activate", h.ActivateProvider)
		})

		r.Route("/tracking", func(r chi.Router) {
			r.With(RequireRole(jwt.RoleProvider, jwt.RoleAdmin)).Post("/location", h.UpdateLocation)
			r.With(RequireRole(jwt.RoleProvider, jwt.RoleAdmin)).Post("/status", h.UpdateProviderStatus)
			r.Get("/{bookingId}", h.TrackingInfo)
			r.Get("/{bookingId}/eta", h.ETA)
		})

		r.Get("/notifications", h.ListNotifications)
		r.Patch("/notifications/{id}/read", h.MarkNotificationRead)
	})

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "service-dispatch"
	}
	return otelhttp.NewHandler(r, serviceName)
}
