// Package server assembles the HTTP router.
package server

import (
	"net/http"
	"time"

	"github.com/caseledger/custody-server/internal/auth"
	"github.com/caseledger/custody-server/internal/handlers"
	"github.com/caseledger/custody-server/internal/middleware"
	"github.com/caseledger/custody-server/internal/services"
	"github.com/caseledger/custody-server/internal/store"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps are the collaborators the router dispatches to.
type Deps struct {
	Store          store.Store
	Service        *services.Service
	Authorizer     services.Authorizer
	Provider       *auth.Provider
	Merkle         *services.MerkleService
	Logger         *zap.Logger
	AllowedOrigins []string
	RateLimitRPM   int
	SecureCookies  bool
}

// NewRouter builds the chi router with global middleware, the public
// login/health routes and the authenticated API.
func NewRouter(d Deps) http.Handler {
	sugar := d.Logger.Sugar()

	authHandler := handlers.NewAuthHandler(d.Provider, d.Service, d.SecureCookies, sugar)
	caseHandler := handlers.NewCaseHandler(d.Service, sugar)
	evidenceHandler := handlers.NewEvidenceHandler(d.Service, sugar)
	analysisHandler := handlers.NewAnalysisHandler(d.Service, sugar)
	integrityHandler := handlers.NewIntegrityHandler(d.Merkle, d.Authorizer, sugar)
	healthHandler := handlers.NewHealthHandler(d.Store, d.Provider, d.Merkle, sugar)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(d.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", handlers.HeaderContentSHA256},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RateLimit(d.RateLimitRPM))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.Check)
		r.Get("/health/ready", healthHandler.Ready)
		r.Post("/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(d.Provider, d.Service, sugar))

			r.Post("/logout", authHandler.Logout)
			r.Get("/auth/user", authHandler.User)
			r.Get("/stats", caseHandler.Stats)

			r.Route("/cases", func(r chi.Router) {
				r.Get("/", caseHandler.List)
				r.Post("/", caseHandler.Create)
				r.Get("/{id}", caseHandler.Get)
				r.Delete("/{id}", caseHandler.Delete)
				r.Patch("/{id}/status", caseHandler.UpdateStatus)
				r.Get("/{id}/analysis", caseHandler.Analysis)
			})

			r.Route("/evidence", func(r chi.Router) {
				r.Get("/", evidenceHandler.List)
				r.Post("/", evidenceHandler.Create)
				r.Get("/{id}", evidenceHandler.Get)
				r.Get("/{id}/custody", evidenceHandler.Custody)
				r.Post("/{id}/custody", evidenceHandler.AddCustody)
				r.Get("/{id}/custody/verify", evidenceHandler.VerifyCustody)
				r.Get("/{id}/custody/report.pdf", evidenceHandler.CustodyReport)
			})

			r.Post("/analysis", analysisHandler.Create)
			r.Get("/audit-logs", analysisHandler.AuditLogs)

			r.Route("/integrity", func(r chi.Router) {
				r.Get("/root", integrityHandler.GetRoot)
				r.Get("/proof/{index}", integrityHandler.GetProof)
				r.Post("/verify", integrityHandler.Verify)
			})
		})
	})

	return r
}
