package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"

	"github.com/wonny/fuelcast/internal/validation"
	"github.com/wonny/fuelcast/pkg/logger"
	"github.com/wonny/fuelcast/pkg/redis"
)

// ValidationSource is the slice of the validation repository the API reads.
type ValidationSource interface {
	GetReport(ctx context.Context, runID string) (*validation.Report, error)
	LatestReport(ctx context.Context) (*validation.Report, error)
	ListRuns(ctx context.Context, limit int) ([]validation.RunInfo, error)
}

// SummaryResponse is the latest report aggregated over one dimension.
type SummaryResponse struct {
	RunID      string               `json:"run_id"`
	ConfigHash string               `json:"config_hash"`
	CreatedAt  time.Time            `json:"created_at"`
	By         string               `json:"by"`
	Summaries  []validation.Summary `json:"summaries"`
}

// FoldsResponse is the latest report filtered to one (horizon, year) fold.
type FoldsResponse struct {
	RunID   string              `json:"run_id"`
	Horizon int                 `json:"horizon"`
	Year    int                 `json:"year"`
	Records []validation.Record `json:"records"`
}

// ValidationHandler handles walk-forward report endpoints
// ⭐ SSOT: 검증 API 핸들러는 이 구조체에서만
type ValidationHandler struct {
	source ValidationSource
	cache  *redis.Cache
	logger *logger.Logger
}

// NewValidationHandler creates a new validation handler.
func NewValidationHandler(source ValidationSource, cache *redis.Cache, log *logger.Logger) *ValidationHandler {
	return &ValidationHandler{
		source: source,
		cache:  cache,
		logger: log,
	}
}

// ListRuns returns recent validation runs, newest first.
// GET /api/validation/runs?limit=20
func (h *ValidationHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		l, err := strconv.Atoi(s)
		if err != nil || l < 1 {
			respondError(w, http.StatusBadRequest, "Invalid 'limit' (expected positive integer)")
			return
		}
		if l > 100 {
			l = 100
		}
		limit = l
	}

	runs, err := h.source.ListRuns(ctx, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list validation runs")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve runs")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(runs),
		"runs":  runs,
	})
}

// GetRun returns one full report, every fold record included.
// GET /api/validation/runs/{id}
func (h *ValidationHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := mux.Vars(r)["id"]

	report, err := h.source.GetReport(ctx, runID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondError(w, http.StatusNotFound, "Run not found")
			return
		}
		h.logger.WithError(err).Error("Failed to get validation report")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve report")
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// GetLatestSummary returns the latest report aggregated by horizon or year.
// The horizon view is the one that shows accuracy decaying with lead time.
// GET /api/validation/latest?by=horizon
func (h *ValidationHandler) GetLatestSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	by := r.URL.Query().Get("by")
	if by == "" {
		by = "horizon"
	}
	if by != "horizon" && by != "year" {
		respondError(w, http.StatusBadRequest, "Invalid 'by' (valid: horizon, year)")
		return
	}

	report, err := h.source.LatestReport(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondError(w, http.StatusNotFound, "No validation run recorded yet")
			return
		}
		h.logger.WithError(err).Error("Failed to get latest report")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve report")
		return
	}

	resp := SummaryResponse{
		RunID:      report.RunID,
		ConfigHash: report.ConfigHash,
		CreatedAt:  report.CreatedAt,
		By:         by,
	}
	if by == "horizon" {
		resp.Summaries = report.ByHorizon()
	} else {
		resp.Summaries = report.ByYear()
	}

	respondJSON(w, http.StatusOK, resp)
}

// GetFolds returns the latest report's records for one (horizon, year) fold.
// GET /api/validation/folds?year=2024&horizon=7
func (h *ValidationHandler) GetFolds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid 'year' (expected integer)")
		return
	}
	horizon, err := strconv.Atoi(r.URL.Query().Get("horizon"))
	if err != nil || horizon < 0 {
		respondError(w, http.StatusBadRequest, "Invalid 'horizon' (expected non-negative integer)")
		return
	}

	var resp FoldsResponse
	err = h.cache.GetOrSet(ctx, redis.ReportKey(year, horizon), &resp, redis.TTLMedium, func() (interface{}, error) {
		report, err := h.source.LatestReport(ctx)
		if err != nil {
			return nil, err
		}
		out := FoldsResponse{RunID: report.RunID, Horizon: horizon, Year: year, Records: []validation.Record{}}
		for _, rec := range report.Records {
			if rec.Horizon == horizon && rec.Year == year {
				out.Records = append(out.Records, rec)
			}
		}
		return out, nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondError(w, http.StatusNotFound, "No validation run recorded yet")
			return
		}
		h.logger.WithError(err).Error("Failed to get fold records")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve fold records")
		return
	}

	respondJSON(w, http.StatusOK, resp)
}
