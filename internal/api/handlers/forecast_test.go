package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/fuelcast/internal/forecast"
	"github.com/wonny/fuelcast/internal/runconfig"
	"github.com/wonny/fuelcast/pkg/config"
	"github.com/wonny/fuelcast/pkg/logger"
	"github.com/wonny/fuelcast/pkg/redis"
)

func testLogger() *logger.Logger {
	return logger.New(&config.Config{LogLevel: "error", LogFormat: "json"})
}

// testCache returns a cache over a disabled client: every Get misses, every
// Set is a no-op, so handlers are exercised on the source path.
func testCache(t *testing.T) *redis.Cache {
	t.Helper()
	client, err := redis.New(&config.Config{})
	require.NoError(t, err)
	return redis.NewCache(client, "fuelcast-test")
}

type stubForecastSource struct {
	recs []*forecast.Record
	err  error
}

func (s *stubForecastSource) Latest(_ context.Context, horizon int) (*forecast.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, rec := range s.recs {
		if rec.Horizon == horizon {
			return rec, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *stubForecastSource) LatestEach(_ context.Context) ([]*forecast.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.recs, nil
}

func (s *stubForecastSource) ListByTargetDate(_ context.Context, from, to time.Time) ([]*forecast.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*forecast.Record
	for _, rec := range s.recs {
		if !rec.TargetDate.Before(from) && !rec.TargetDate.After(to) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func testForecastRecord(horizon int, age time.Duration) *forecast.Record {
	now := time.Now().UTC()
	return &forecast.Record{
		RunID:        "run-1",
		ConfigHash:   "hash",
		ForecastDate: now.Add(-age).Truncate(24 * time.Hour),
		TargetDate:   now.Add(-age).Truncate(24 * time.Hour).AddDate(0, 0, horizon),
		Horizon:      horizon,
		Regime:       "normal",
		Point:        3.42,
		P10:          3.30,
		P50:          3.42,
		P90:          3.55,
		CreatedAt:    now.Add(-age),
	}
}

func newForecastHandler(src ForecastSource, t *testing.T) *ForecastHandler {
	t.Helper()
	fcfg := runconfig.Forecast{FreshMaxAgeHours: 24, StaleMinAgeHours: 48}
	return NewForecastHandler(src, testCache(t), fcfg, nil, testLogger())
}

func TestForecastHandler_GetLatest(t *testing.T) {
	src := &stubForecastSource{recs: []*forecast.Record{testForecastRecord(7, 2 * time.Hour)}}
	h := newForecastHandler(src, t)

	rr := httptest.NewRecorder()
	h.GetLatest(rr, httptest.NewRequest(http.MethodGet, "/api/forecast/latest?horizon=7", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp ForecastResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 7, resp.Horizon)
	assert.InDelta(t, 3.42, resp.Point, 1e-12)
	assert.Equal(t, forecast.FreshnessFresh, resp.Freshness.Status)
	assert.InDelta(t, 2.0, resp.Freshness.AgeHours, 0.1)
}

func TestForecastHandler_GetLatest_Stale(t *testing.T) {
	src := &stubForecastSource{recs: []*forecast.Record{testForecastRecord(7, 72 * time.Hour)}}
	h := newForecastHandler(src, t)

	rr := httptest.NewRecorder()
	h.GetLatest(rr, httptest.NewRequest(http.MethodGet, "/api/forecast/latest?horizon=7", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp ForecastResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, forecast.FreshnessStale, resp.Freshness.Status)
}

func TestForecastHandler_GetLatest_Errors(t *testing.T) {
	h := newForecastHandler(&stubForecastSource{}, t)

	// 지평 파라미터 누락/오염
	for _, target := range []string{
		"/api/forecast/latest",
		"/api/forecast/latest?horizon=abc",
		"/api/forecast/latest?horizon=-1",
	} {
		rr := httptest.NewRecorder()
		h.GetLatest(rr, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}

	// 기록 없음
	rr := httptest.NewRecorder()
	h.GetLatest(rr, httptest.NewRequest(http.MethodGet, "/api/forecast/latest?horizon=99", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// 저장소 장애
	h = newForecastHandler(&stubForecastSource{err: context.DeadlineExceeded}, t)
	rr = httptest.NewRecorder()
	h.GetLatest(rr, httptest.NewRequest(http.MethodGet, "/api/forecast/latest?horizon=7", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestForecastHandler_GetLatestAll(t *testing.T) {
	src := &stubForecastSource{recs: []*forecast.Record{
		testForecastRecord(1, time.Hour),
		testForecastRecord(7, time.Hour),
		testForecastRecord(21, 60 * time.Hour),
	}}
	h := newForecastHandler(src, t)

	rr := httptest.NewRecorder()
	h.GetLatestAll(rr, httptest.NewRequest(http.MethodGet, "/api/forecast/latest/all", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Count     int                `json:"count"`
		Forecasts []ForecastResponse `json:"forecasts"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 3, resp.Count)
	assert.Equal(t, forecast.FreshnessFresh, resp.Forecasts[0].Freshness.Status)
	assert.Equal(t, forecast.FreshnessStale, resp.Forecasts[2].Freshness.Status)
}

func TestForecastHandler_GetByTargetDate(t *testing.T) {
	near := testForecastRecord(7, time.Hour)
	far := testForecastRecord(21, time.Hour)
	h := newForecastHandler(&stubForecastSource{recs: []*forecast.Record{near, far}}, t)

	from := near.TargetDate.Format("2006-01-02")
	to := near.TargetDate.AddDate(0, 0, 1).Format("2006-01-02")
	rr := httptest.NewRecorder()
	h.GetByTargetDate(rr, httptest.NewRequest(http.MethodGet,
		"/api/forecast/by-target-date?from="+from+"&to="+to, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Count     int               `json:"count"`
		Forecasts []forecast.Record `json:"forecasts"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, 7, resp.Forecasts[0].Horizon)

	// 날짜 형식 오류와 역전된 범위
	rr = httptest.NewRecorder()
	h.GetByTargetDate(rr, httptest.NewRequest(http.MethodGet, "/api/forecast/by-target-date?from=oops", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	h.GetByTargetDate(rr, httptest.NewRequest(http.MethodGet,
		"/api/forecast/by-target-date?from="+to+"&to="+from, nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestForecastHandler_GetRegime(t *testing.T) {
	src := &stubForecastSource{recs: []*forecast.Record{
		testForecastRecord(1, time.Hour),
		testForecastRecord(21, time.Hour),
	}}
	src.recs[0].Regime = "tight"
	h := newForecastHandler(src, t)

	rr := httptest.NewRecorder()
	h.GetRegime(rr, httptest.NewRequest(http.MethodGet, "/api/regimes/latest", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp RegimeResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "tight", resp.Regime)
	assert.Equal(t, 1, resp.Horizon, "shortest horizon carries the freshest classification")

	// 예측이 아직 없으면 404
	h = newForecastHandler(&stubForecastSource{}, t)
	rr = httptest.NewRecorder()
	h.GetRegime(rr, httptest.NewRequest(http.MethodGet, "/api/regimes/latest", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
