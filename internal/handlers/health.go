// Health endpoints:
// /health/live - процесс жив;
// /health/ready - PostgreSQL и хранилище объектов доступны;
// /metrics - метрики Prometheus.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServiceName - имя сервиса в ответах health.
const ServiceName = "filelocker"

// ReadinessChecker - проверка готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "fail") и сообщение.
	CheckReady(ctx context.Context) (status string, message string)
}

// HealthHandler - обработчик health endpoints.
type HealthHandler struct {
	dbChecker   ReadinessChecker
	blobChecker ReadinessChecker
	promHandler http.Handler
}

// NewHealthHandler создает обработчик. nil-проверка считается проваленной.
func NewHealthHandler(dbChecker, blobChecker ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		dbChecker:   dbChecker,
		blobChecker: blobChecker,
		promHandler: promhttp.Handler(),
	}
}

type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthChecks struct {
	PostgreSQL  healthCheckResult `json:"postgresql"`
	BlobStorage healthCheckResult `json:"blobStorage"`
}

type healthResponse struct {
	Status    string        `json:"status"`
	Timestamp string        `json:"timestamp"`
	Service   string        `json:"service"`
	Checks    *healthChecks `json:"checks,omitempty"`
}

// Live - проверка живости процесса.
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Service:   ServiceName,
	})
}

// Ready - проверка готовности. 503, если хотя бы одна зависимость недоступна.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Service:   ServiceName,
	}
	resp.Checks = &healthChecks{
		PostgreSQL:  runCheck(r.Context(), h.dbChecker),
		BlobStorage: runCheck(r.Context(), h.blobChecker),
	}

	status := http.StatusOK
	if resp.Checks.PostgreSQL.Status != "ok" || resp.Checks.BlobStorage.Status != "ok" {
		resp.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// Metrics - метрики Prometheus.
func (h *HealthHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

func runCheck(ctx context.Context, c ReadinessChecker) healthCheckResult {
	if c == nil {
		return healthCheckResult{Status: "fail", Message: "не инициализирован"}
	}
	status, msg := c.CheckReady(ctx)
	return healthCheckResult{Status: status, Message: msg}
}
