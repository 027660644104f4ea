package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/llm-gateway/services"
	"github.com/upb/llm-gateway/services/gateway"
	"github.com/upb/llm-gateway/services/providers"
	"github.com/upb/llm-gateway/utils"
)

// Operator is the part of the gateway the admin endpoints need
type Operator interface {
	Providers() []string
	Provider(name string) (providers.Provider, bool)
	DefaultProvider() (providers.Provider, bool)
	HealthCheck(ctx context.Context) map[string]bool
	Stats() gateway.Stats
	ClearCache()
}

// ProviderInfo describes a registered provider
type ProviderInfo struct {
	Name         string                 `json:"name"`
	Type         string                 `json:"type"`
	Model        string                 `json:"model"`
	Status       providers.Status       `json:"status"`
	Default      bool                   `json:"default"`
	Capabilities providers.Capabilities `json:"capabilities"`
}

// ProviderHealthResponse reports the result of probing every provider
type ProviderHealthResponse struct {
	Healthy   bool            `json:"healthy"`
	Providers map[string]bool `json:"providers"`
	Timestamp string          `json:"timestamp"`
}

// ModelsResponse lists the models an upstream provider serves
type ModelsResponse struct {
	Provider string   `json:"provider"`
	Models   []string `json:"models"`
}

// AdminHandler exposes provider health, statistics and cache control
type AdminHandler struct {
	gateway      Operator
	checkTimeout time.Duration
	logger       *zap.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(gw Operator, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		gateway:      gw,
		checkTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// HandleListProviders handles GET /v1/providers
func (h *AdminHandler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	var defaultName string
	if p, ok := h.gateway.DefaultProvider(); ok {
		defaultName = p.Name()
	}

	names := h.gateway.Providers()
	infos := make([]ProviderInfo, 0, len(names))
	for _, name := range names {
		p, ok := h.gateway.Provider(name)
		if !ok {
			continue
		}
		cfg := p.Config()
		infos = append(infos, ProviderInfo{
			Name:         name,
			Type:         cfg.Type,
			Model:        cfg.Model,
			Status:       p.Status(),
			Default:      name == defaultName,
			Capabilities: p.Capabilities(),
		})
	}

	if err := utils.WriteOK(w, infos); err != nil {
		h.logger.Error("failed to write providers response", zap.Error(err))
	}
}

// HandleProviderHealth handles GET /v1/providers/health.
// Responds 503 when no provider is healthy.
func (h *AdminHandler) HandleProviderHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
	defer cancel()

	results := h.gateway.HealthCheck(ctx)
	healthy := anyHealthy(results)

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	response := ProviderHealthResponse{
		Healthy:   healthy,
		Providers: results,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := utils.WriteJSON(w, status, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write provider health response", zap.Error(err))
	}
}

// HandleListModels handles GET /v1/providers/{name}/models
func (h *AdminHandler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, ok := h.gateway.Provider(name)
	if !ok {
		_ = utils.WriteNotFound(w, "provider "+name+" is not registered")
		return
	}

	lister, ok := p.(providers.ModelLister)
	if !ok {
		_ = utils.WriteBadRequest(w, "provider "+name+" cannot list models", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
	defer cancel()

	models, err := lister.ListModels(ctx)
	if err != nil {
		h.logger.Warn("failed to list models",
			zap.String("provider", name),
			zap.Error(err))
		if !services.IsProviderError(err) {
			err = services.WrapTransport(name, "failed to list models", err)
		}
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, ModelsResponse{Provider: name, Models: models}); err != nil {
		h.logger.Error("failed to write models response", zap.Error(err))
	}
}

// HandleStats handles GET /v1/stats
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteOK(w, h.gateway.Stats()); err != nil {
		h.logger.Error("failed to write stats response", zap.Error(err))
	}
}

// HandleClearCache handles DELETE /v1/cache
func (h *AdminHandler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	h.gateway.ClearCache()
	h.logger.Info("response cache cleared")
	utils.WriteNoContent(w)
}

func anyHealthy(results map[string]bool) bool {
	for _, ok := range results {
		if ok {
			return true
		}
	}
	return false
}
