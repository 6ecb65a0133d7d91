package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/fuelcast/internal/forecast"
	"github.com/wonny/fuelcast/internal/metrics"
	"github.com/wonny/fuelcast/internal/runconfig"
	"github.com/wonny/fuelcast/pkg/logger"
	"github.com/wonny/fuelcast/pkg/redis"
)

// ForecastSource is the slice of the forecast repository the API reads.
type ForecastSource interface {
	Latest(ctx context.Context, horizon int) (*forecast.Record, error)
	LatestEach(ctx context.Context) ([]*forecast.Record, error)
	ListByTargetDate(ctx context.Context, from, to time.Time) ([]*forecast.Record, error)
}

// ForecastResponse is a served record plus its serve-time freshness. The
// record is cached; freshness is recomputed on every request so a cached
// record cannot claim to be fresher than it is.
type ForecastResponse struct {
	forecast.Record
	Freshness forecast.Freshness `json:"freshness"`
}

// RegimeResponse is the regime the freshest forecast was produced under.
type RegimeResponse struct {
	ForecastDate time.Time `json:"forecast_date"`
	Regime       string    `json:"regime"`
	Horizon      int       `json:"horizon"`
}

// ForecastHandler handles forecast serving endpoints
// ⭐ SSOT: 예측 API 핸들러는 이 구조체에서만
type ForecastHandler struct {
	source    ForecastSource
	cache     *redis.Cache
	fcfg      runconfig.Forecast
	collector *metrics.Collector
	logger    *logger.Logger
}

// NewForecastHandler creates a new forecast handler.
func NewForecastHandler(
	source ForecastSource,
	cache *redis.Cache,
	fcfg runconfig.Forecast,
	collector *metrics.Collector,
	log *logger.Logger,
) *ForecastHandler {
	return &ForecastHandler{
		source:    source,
		cache:     cache,
		fcfg:      fcfg,
		collector: collector,
		logger:    log,
	}
}

// GetLatest returns the latest forecast for one horizon.
// GET /api/forecast/latest?horizon=7
func (h *ForecastHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	horizon, err := strconv.Atoi(r.URL.Query().Get("horizon"))
	if err != nil || horizon < 0 {
		respondError(w, http.StatusBadRequest, "Invalid 'horizon' (expected non-negative integer)")
		return
	}

	var rec forecast.Record
	err = h.cache.GetOrSet(ctx, redis.ForecastKey(horizon), &rec, redis.TTLShort, func() (interface{}, error) {
		return h.source.Latest(ctx, horizon)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondError(w, http.StatusNotFound, "No forecast for this horizon")
			return
		}
		h.logger.WithError(err).Error("Failed to get latest forecast")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve forecast")
		return
	}

	resp := h.annotate(rec)
	h.collector.SetForecastAge(horizon, resp.Freshness.AgeHours)
	respondJSON(w, http.StatusOK, resp)
}

// GetLatestAll returns the latest forecast of every horizon.
// GET /api/forecast/latest/all
func (h *ForecastHandler) GetLatestAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	recs, err := h.source.LatestEach(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get latest forecasts")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve forecasts")
		return
	}

	resp := make([]ForecastResponse, 0, len(recs))
	for _, rec := range recs {
		annotated := h.annotate(*rec)
		h.collector.SetForecastAge(rec.Horizon, annotated.Freshness.AgeHours)
		resp = append(resp, annotated)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(resp),
		"forecasts": resp,
	})
}

// GetByTargetDate returns forecasts whose target date falls in a range.
// Defaults to the next 30 days.
// GET /api/forecast/by-target-date?from=2024-10-01&to=2024-10-31
func (h *ForecastHandler) GetByTargetDate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	now := time.Now().UTC().Truncate(24 * time.Hour)
	from, to := now, now.AddDate(0, 0, 30)
	var err error

	if s := r.URL.Query().Get("from"); s != "" {
		from, err = time.Parse("2006-01-02", s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid 'from' date format (expected YYYY-MM-DD)")
			return
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		to, err = time.Parse("2006-01-02", s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid 'to' date format (expected YYYY-MM-DD)")
			return
		}
	}
	if to.Before(from) {
		respondError(w, http.StatusBadRequest, "'to' must not precede 'from'")
		return
	}

	recs, err := h.source.ListByTargetDate(ctx, from, to)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list forecasts by target date")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve forecasts")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"from":      from.Format("2006-01-02"),
		"to":        to.Format("2006-01-02"),
		"count":     len(recs),
		"forecasts": recs,
	})
}

// GetRegime returns the supply regime the freshest forecast was produced
// under. The shortest horizon carries the most recent classification.
// GET /api/regimes/latest
func (h *ForecastHandler) GetRegime(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var resp RegimeResponse
	key := redis.RegimeKey(time.Now().UTC().Format("2006-01-02"))
	err := h.cache.GetOrSet(ctx, key, &resp, redis.TTLLong, func() (interface{}, error) {
		recs, err := h.source.LatestEach(ctx)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			return nil, pgx.ErrNoRows
		}
		rec := recs[0]
		return RegimeResponse{
			ForecastDate: rec.ForecastDate,
			Regime:       rec.Regime,
			Horizon:      rec.Horizon,
		}, nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondError(w, http.StatusNotFound, "No forecast produced yet")
			return
		}
		h.logger.WithError(err).Error("Failed to get regime")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve regime")
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// annotate attaches serve-time freshness to a record.
func (h *ForecastHandler) annotate(rec forecast.Record) ForecastResponse {
	return ForecastResponse{
		Record:    rec,
		Freshness: rec.FreshnessAt(time.Now().UTC(), h.fcfg),
	}
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
