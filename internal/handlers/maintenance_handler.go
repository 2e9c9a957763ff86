package handlers

import (
	"context"
	"log/slog"
	"net/http"

	appmiddleware "github.com/maynagashev/filelocker/internal/middleware"
	"github.com/maynagashev/filelocker/internal/services"
)

// Reconciler - запуск сверки хранилища.
type Reconciler interface {
	RunOnce(ctx context.Context) (*services.ReconcileReport, error)
}

// MaintenanceHandler обрабатывает служебные маршруты.
type MaintenanceHandler struct {
	reconciler Reconciler
	logger     *slog.Logger
}

// NewMaintenanceHandler создает новый экземпляр MaintenanceHandler.
func NewMaintenanceHandler(reconciler Reconciler, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		reconciler: reconciler,
		logger:     logger.With(slog.String("component", "maintenance_handler")),
	}
}

// Reconcile обрабатывает POST /api/maintenance/reconcile.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	subject, _ := appmiddleware.GetSubjectFromContext(r.Context())
	h.logger.Info("Сверка запущена вручную", slog.String("subject", subject))

	report, err := h.reconciler.RunOnce(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, report)
}
