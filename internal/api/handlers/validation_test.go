package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/fuelcast/internal/models"
	"github.com/wonny/fuelcast/internal/validation"
)

type stubValidationSource struct {
	report    *validation.Report
	runs      []validation.RunInfo
	lastLimit int
	err       error
}

func (s *stubValidationSource) GetReport(_ context.Context, runID string) (*validation.Report, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.report == nil || s.report.RunID != runID {
		return nil, pgx.ErrNoRows
	}
	return s.report, nil
}

func (s *stubValidationSource) LatestReport(_ context.Context) (*validation.Report, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.report == nil {
		return nil, pgx.ErrNoRows
	}
	return s.report, nil
}

func (s *stubValidationSource) ListRuns(_ context.Context, limit int) ([]validation.RunInfo, error) {
	s.lastLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	return s.runs, nil
}

func testReport() *validation.Report {
	report := &validation.Report{
		RunID:      "run-42",
		ConfigHash: "cafe",
		CreatedAt:  time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
	}
	report.Append(
		validation.Record{Horizon: 1, Year: 2024, Model: models.NameRidgeBaseline,
			Status: validation.StatusOK, NTrain: 900, NTest: 31,
			Metrics: models.Metrics{RMSE: 0.04, MAE: 0.03, R2: 0.85, MAPE: 1.1, N: 31}},
		validation.Record{Horizon: 21, Year: 2024, Model: models.NameRidgeBaseline,
			Status: validation.StatusOK, NTrain: 900, NTest: 31,
			Metrics: models.Metrics{RMSE: 0.40, MAE: 0.35, R2: -8.7, MAPE: 11.0, N: 31}},
		validation.Record{Horizon: 21, Year: 2023, Model: models.NameRidgeBaseline,
			Status: validation.StatusSkipped, Reason: "150 training rows, need 200"},
	)
	report.Sort()
	return report
}

func newValidationHandler(src ValidationSource, t *testing.T) *ValidationHandler {
	t.Helper()
	return NewValidationHandler(src, testCache(t), testLogger())
}

func TestValidationHandler_ListRuns(t *testing.T) {
	src := &stubValidationSource{runs: []validation.RunInfo{{RunID: "run-42"}}}
	h := newValidationHandler(src, t)

	rr := httptest.NewRecorder()
	h.ListRuns(rr, httptest.NewRequest(http.MethodGet, "/api/validation/runs", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 20, src.lastLimit, "default limit")

	var resp struct {
		Count int                  `json:"count"`
		Runs  []validation.RunInfo `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Count)

	// limit 상한
	rr = httptest.NewRecorder()
	h.ListRuns(rr, httptest.NewRequest(http.MethodGet, "/api/validation/runs?limit=5000", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 100, src.lastLimit)

	rr = httptest.NewRecorder()
	h.ListRuns(rr, httptest.NewRequest(http.MethodGet, "/api/validation/runs?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestValidationHandler_GetRun(t *testing.T) {
	h := newValidationHandler(&stubValidationSource{report: testReport()}, t)

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/validation/runs/run-42", nil),
		map[string]string{"id": "run-42"})
	rr := httptest.NewRecorder()
	h.GetRun(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var report validation.Report
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&report))
	assert.Equal(t, "run-42", report.RunID)
	assert.Len(t, report.Records, 3)

	req = mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/validation/runs/nope", nil),
		map[string]string{"id": "nope"})
	rr = httptest.NewRecorder()
	h.GetRun(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestValidationHandler_GetLatestSummary(t *testing.T) {
	h := newValidationHandler(&stubValidationSource{report: testReport()}, t)

	rr := httptest.NewRecorder()
	h.GetLatestSummary(rr, httptest.NewRequest(http.MethodGet, "/api/validation/latest", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp SummaryResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "run-42", resp.RunID)
	assert.Equal(t, "horizon", resp.By, "horizon is the default view")
	require.Len(t, resp.Summaries, 2)

	// 지평 붕괴가 요약에 드러나야 함
	assert.Equal(t, 1, resp.Summaries[0].Horizon)
	assert.Greater(t, resp.Summaries[0].R2Mean, 0.8)
	assert.Equal(t, 21, resp.Summaries[1].Horizon)
	assert.Less(t, resp.Summaries[1].R2Mean, -8.0)
	assert.Equal(t, 1, resp.Summaries[1].Skipped)

	rr = httptest.NewRecorder()
	h.GetLatestSummary(rr, httptest.NewRequest(http.MethodGet, "/api/validation/latest?by=year", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "year", resp.By)

	rr = httptest.NewRecorder()
	h.GetLatestSummary(rr, httptest.NewRequest(http.MethodGet, "/api/validation/latest?by=model", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// 아직 실행된 적 없음
	h = newValidationHandler(&stubValidationSource{}, t)
	rr = httptest.NewRecorder()
	h.GetLatestSummary(rr, httptest.NewRequest(http.MethodGet, "/api/validation/latest", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestValidationHandler_GetFolds(t *testing.T) {
	h := newValidationHandler(&stubValidationSource{report: testReport()}, t)

	rr := httptest.NewRecorder()
	h.GetFolds(rr, httptest.NewRequest(http.MethodGet, "/api/validation/folds?year=2024&horizon=21", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp FoldsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 21, resp.Horizon)
	assert.Equal(t, 2024, resp.Year)
	require.Len(t, resp.Records, 1)
	assert.InDelta(t, -8.7, resp.Records[0].R2, 1e-12)

	// 매치 없는 폴드는 빈 목록, 404 아님
	rr = httptest.NewRecorder()
	h.GetFolds(rr, httptest.NewRequest(http.MethodGet, "/api/validation/folds?year=1999&horizon=21", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Empty(t, resp.Records)

	rr = httptest.NewRecorder()
	h.GetFolds(rr, httptest.NewRequest(http.MethodGet, "/api/validation/folds?horizon=21", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
