package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/llm-gateway/models"
	"github.com/upb/llm-gateway/repositories"
	"github.com/upb/llm-gateway/utils"
)

const (
	defaultUsageWindow = 24 * time.Hour
	defaultPageSize    = 50
	maxPageSize        = 500
)

// UsageSummaryResponse is the per-provider usage over a time window
type UsageSummaryResponse struct {
	Start     time.Time              `json:"start"`
	End       time.Time              `json:"end"`
	Providers []*models.UsageSummary `json:"providers"`
}

// UsagePruneResponse reports how many records a prune removed
type UsagePruneResponse struct {
	Before  time.Time `json:"before"`
	Deleted int64     `json:"deleted"`
}

// UsageHandler serves the persisted usage ledger
type UsageHandler struct {
	repo   repositories.UsageRepository
	now    func() time.Time
	logger *zap.Logger
}

// NewUsageHandler creates a new UsageHandler
func NewUsageHandler(repo repositories.UsageRepository, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{
		repo:   repo,
		now:    time.Now,
		logger: logger,
	}
}

// HandleSummary handles GET /v1/usage?window=24h
func (h *UsageHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	window := defaultUsageWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			_ = utils.WriteBadRequest(w, "window must be a positive duration such as 1h or 30m", nil)
			return
		}
		window = d
	}

	end := h.now().UTC()
	start := end.Add(-window)

	summary, err := h.repo.SummaryByProvider(r.Context(), start, end)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if summary == nil {
		summary = []*models.UsageSummary{}
	}

	if err := utils.WriteOK(w, UsageSummaryResponse{Start: start, End: end, Providers: summary}); err != nil {
		h.logger.Error("failed to write usage summary", zap.Error(err))
	}
}

// HandleRecent handles GET /v1/usage/recent?limit=&offset=
func (h *UsageHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit <= 0 || limit > maxPageSize {
		_ = utils.WriteBadRequest(w, "limit must be between 1 and "+strconv.Itoa(maxPageSize), nil)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		_ = utils.WriteBadRequest(w, "offset must be a non-negative integer", nil)
		return
	}

	records, err := h.repo.ListRecent(r.Context(), limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if records == nil {
		records = []*models.UsageRecord{}
	}

	if err := utils.WriteOK(w, records); err != nil {
		h.logger.Error("failed to write usage records", zap.Error(err))
	}
}

// HandleByRequest handles GET /v1/usage/requests/{requestID}
func (h *UsageHandler) HandleByRequest(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	records, err := h.repo.ListByRequestID(r.Context(), requestID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if len(records) == 0 {
		_ = utils.WriteNotFound(w, "no usage recorded for request "+requestID)
		return
	}

	if err := utils.WriteOK(w, records); err != nil {
		h.logger.Error("failed to write usage records", zap.Error(err))
	}
}

// HandlePrune handles DELETE /v1/usage?before=<RFC3339>
func (h *UsageHandler) HandlePrune(w http.ResponseWriter, r *http.Request) {
	before, err := time.Parse(time.RFC3339, r.URL.Query().Get("before"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "before must be an RFC3339 timestamp", nil)
		return
	}
	if before.After(h.now()) {
		_ = utils.WriteBadRequest(w, "before must not be in the future", nil)
		return
	}

	deleted, err := h.repo.DeleteBefore(r.Context(), before)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.logger.Info("usage records pruned",
		zap.Time("before", before),
		zap.Int64("deleted", deleted))

	if err := utils.WriteOK(w, UsagePruneResponse{Before: before, Deleted: deleted}); err != nil {
		h.logger.Error("failed to write prune response", zap.Error(err))
	}
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
