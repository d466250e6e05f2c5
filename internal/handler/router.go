package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/config"
)

// NewRouter wires every route.
func NewRouter(h *Handler, auth *Authenticator, serverCfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	timeout := serverCfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r.Use(middleware.Timeout(timeout))

	origins := serverCfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	// The provider authenticates with the payload signature.
	r.Post("/payment-callback", h.PaymentCallback)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Post("/payments", h.CreatePayment)
		r.Get("/balance", h.GetBalance)
		r.Get("/transactions", h.ListTransactions)
		r.Post("/network/register", h.RegisterMember)
		r.Get("/network/tree", h.NetworkTree)
		r.Get("/network/stats", h.NetworkStats)
		r.Get("/activation", h.GetActivation)
		r.Get("/commission-structure", h.CommissionStructure)
		r.Get("/auto-withdraw", h.GetAutoWithdraw)
		r.Put("/auto-withdraw", h.SaveAutoWithdraw)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)

			r.Post("/jobs/{name}", h.RunJob)
			r.Post("/commissions/{orderID}", h.RetryCommission)
			r.Put("/admin/plan/{structure}/levels/{level}", h.SetPlanLevel)
			r.Delete("/admin/plan/{structure}/levels/{level}", h.DeletePlanLevel)
		})
	})

	return r
}
