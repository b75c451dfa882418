package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyris/vyris-backend/api/controllers"
	"github.com/vyris/vyris-backend/api/middleware"
	"github.com/vyris/vyris-backend/internal/encounters"
	"github.com/vyris/vyris-backend/internal/mint"
	"github.com/vyris/vyris-backend/internal/passes"
	"github.com/vyris/vyris-backend/internal/reforge"
	"github.com/vyris/vyris-backend/pkg/config"
	"github.com/vyris/vyris-backend/pkg/logger"
)

// Services bundles everything the HTTP surface calls into.
type Services struct {
	Mint       mint.Service
	Passes     passes.Service
	Encounters encounters.Service
	Reforge    reforge.Service
	Gate       controllers.DropGate
	Pool       controllers.DropPool
	DB         controllers.Pinger
	Redis      controllers.Pinger
	Metrics    prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, svc Services) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Recoverer(logg),
	)
	if cfg.App.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.App.RequestTimeout))
	}
	r.Use(middleware.CORS(cfg.App.AllowedOrigins))

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    svc.DB,
			"redis": svc.Redis,
		}))
	})

	if svc.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(svc.Metrics, promhttp.HandlerOpts{}))
	}

	r.Post("/mint", controllers.Mint(svc.Mint, logg))
	r.Post("/issue-pass", controllers.IssuePass(svc.Passes, logg))
	r.Post("/encounters/verify", controllers.VerifyEncounter(svc.Encounters, logg))
	r.Route("/devices/reforge", func(r chi.Router) {
		r.Post("/init", controllers.ReforgeInit(svc.Reforge, logg))
		r.Post("/confirm", controllers.ReforgeConfirm(svc.Reforge, logg))
	})
	r.Get("/drops/{tier}/{year}", controllers.DropStatus(svc.Gate, svc.Pool, logg))

	return r
}
