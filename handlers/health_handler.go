package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-gateway/utils"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProviderChecker reports per-provider health
type ProviderChecker interface {
	HealthCheck(ctx context.Context) map[string]bool
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	checker ProviderChecker
	db     *sql.DB
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db may be nil when the
// usage ledger is disabled.
func NewHealthHandler(checker ProviderChecker, db *sql.DB, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checker: checker,
		db:     db,
		logger: logger,
	}
}

// HandleHealth handles GET /healthz
// Liveness only; returns 200 while the process is serving
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Ready when at least one provider is healthy and the database, if any, answers
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	providerResults := h.checker.HealthCheck(ctx)
	if anyHealthy(providerResults) {
		checks["providers"] = "healthy"
	} else {
		h.logger.Warn("no healthy providers", zap.Any("providers", providerResults))
		checks["providers"] = "unhealthy"
		allHealthy = false
	}

	if h.db != nil {
		if err := h.checkDatabase(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			checks["database"] = "unhealthy"
			allHealthy = false
		} else {
			checks["database"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
