package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	appmiddleware "github.com/maynagashev/filelocker/internal/middleware"
)

// RouterConfig - зависимости маршрутизатора.
type RouterConfig struct {
	Files       *FileHandler
	Health      *HealthHandler
	Maintenance *MaintenanceHandler // nil - служебные маршруты не регистрируются
	AdminSecret []byte
	Logger      *slog.Logger
}

// NewRouter настраивает и возвращает роутер chi.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(appmiddleware.Metrics)
	r.Use(appmiddleware.RequestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong\n"))
	})

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Live)
		r.Get("/health/ready", cfg.Health.Ready)
		r.Get("/metrics", cfg.Health.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/files", func(r chi.Router) {
			r.Post("/upload", cfg.Files.Upload)
			r.Get("/user/{userId}", cfg.Files.ListByUser)
			r.Get("/access/{code}", cfg.Files.ListByAccessCode)
			r.Get("/{fileId}", cfg.Files.Download)
			r.Delete("/{fileId}", cfg.Files.Delete)
		})
		r.Post("/save/{fileId}", cfg.Files.Save)

		if cfg.Maintenance != nil {
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.Authenticator(cfg.AdminSecret, cfg.Logger))
				r.Post("/maintenance/reconcile", cfg.Maintenance.Reconcile)
			})
		}
	})
	return r
}
