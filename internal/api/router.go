package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/hackgods/telemed-queue/internal/appointment"
	"github.com/hackgods/telemed-queue/internal/auth"
	"github.com/hackgods/telemed-queue/internal/queue"
	"github.com/hackgods/telemed-queue/internal/wallet"
)

type RouterConfig struct {
	Appointments   *appointment.Service
	Queue          *queue.Service
	Wallet         *wallet.Service
	Tokens         *auth.Tokens
	Checks         []Check
	Logger         zerolog.Logger
	Location       *time.Location // clinic timezone for ?date= parameters
	AllowedOrigins []string
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	}))

	// Health endpoints
	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens))

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", bookAppointmentHandler(cfg.Appointments))
			r.Get("/", listAppointmentsHandler(cfg.Appointments))
			r.Get("/{id}", getAppointmentHandler(cfg.Appointments))
			r.Post("/{id}/start", transitionHandler(cfg.Appointments.Start))
			r.Post("/{id}/complete", transitionHandler(cfg.Appointments.Complete))
			r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Appointments))
			r.Post("/{id}/pay", payAppointmentHandler(cfg.Appointments))
			r.Post("/{id}/refund", refundAppointmentHandler(cfg.Appointments))
			r.Get("/{id}/wait-time", waitTimeHandler(cfg.Queue))
		})

		r.Get("/doctors/{id}/queue", doctorQueueHandler(cfg.Queue, loc))

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", getWalletHandler(cfg.Wallet))
			r.Get("/transactions", listTransactionsHandler(cfg.Wallet))
			r.Post("/top-up", topUpHandler(cfg.Wallet))
			r.Post("/withdraw", withdrawHandler(cfg.Wallet))
		})
	})

	return r
}
