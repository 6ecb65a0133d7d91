package forecast

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository 서빙 예측 저장소
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository 새 저장소 생성
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertForecast = `
	INSERT INTO analytics.forecasts
		(run_id, config_hash, forecast_date, target_date, horizon, regime,
		 point_forecast, p10, p50, p90, feature_set_id, artifact_keys,
		 quantile_warn, bayes_update_date, bayes_point, bayes_variance,
		 lower_80, upper_80, lower_95, upper_95, sigma2, n_obs, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
	        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	ON CONFLICT (forecast_date, target_date, horizon) DO UPDATE SET
		run_id = EXCLUDED.run_id,
		config_hash = EXCLUDED.config_hash,
		regime = EXCLUDED.regime,
		point_forecast = EXCLUDED.point_forecast,
		p10 = EXCLUDED.p10,
		p50 = EXCLUDED.p50,
		p90 = EXCLUDED.p90,
		feature_set_id = EXCLUDED.feature_set_id,
		artifact_keys = EXCLUDED.artifact_keys,
		quantile_warn = EXCLUDED.quantile_warn,
		bayes_update_date = EXCLUDED.bayes_update_date,
		bayes_point = EXCLUDED.bayes_point,
		bayes_variance = EXCLUDED.bayes_variance,
		lower_80 = EXCLUDED.lower_80,
		upper_80 = EXCLUDED.upper_80,
		lower_95 = EXCLUDED.lower_95,
		upper_95 = EXCLUDED.upper_95,
		sigma2 = EXCLUDED.sigma2,
		n_obs = EXCLUDED.n_obs,
		created_at = EXCLUDED.created_at`

// insertArgs flattens the record into the insert parameter list. The bayes
// block goes in as nullable columns; training_years만 JSON 산출물에 남는다.
func insertArgs(rec *Record) []any {
	var (
		bDate                  *time.Time
		bPoint, bVar           *float64
		lo80, hi80, lo95, hi95 *float64
		sigma2                 *float64
		nObs                   *int
	)
	if b := rec.Bayes; b != nil {
		bDate = &b.UpdateDate
		bPoint = &b.PointForecast
		bVar = &b.Variance
		lo80, hi80 = &b.Lower80, &b.Upper80
		lo95, hi95 = &b.Lower95, &b.Upper95
		sigma2 = &b.Sigma2
		nObs = &b.NObs
	}
	return []any{
		rec.RunID, rec.ConfigHash, rec.ForecastDate, rec.TargetDate, rec.Horizon, rec.Regime,
		rec.Point, rec.P10, rec.P50, rec.P90, rec.FeatureSetID, rec.ArtifactKeys,
		rec.QuantileWarn, bDate, bPoint, bVar,
		lo80, hi80, lo95, hi95, sigma2, nObs, rec.CreatedAt,
	}
}

// Save 예측 1건 저장 (같은 시점·지평을 다시 생산하면 대체)
func (r *Repository) Save(ctx context.Context, rec *Record) error {
	_, err := r.pool.Exec(ctx, insertForecast, insertArgs(rec)...)
	return err
}

// SaveAll 예측 일괄 저장
func (r *Repository) SaveAll(ctx context.Context, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range recs {
		batch.Queue(insertForecast, insertArgs(rec)...)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range recs {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}

	return nil
}

const selectForecast = `
	SELECT run_id, config_hash, forecast_date, target_date, horizon, regime,
	       point_forecast, p10, p50, p90, feature_set_id, artifact_keys,
	       quantile_warn, bayes_update_date, bayes_point, bayes_variance,
	       lower_80, upper_80, lower_95, upper_95, sigma2, n_obs, created_at
	FROM analytics.forecasts`

// scanRecord rebuilds a record from one row, reattaching the bayes update
// when its columns are present.
func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec                    Record
		bDate                  *time.Time
		bPoint, bVar           *float64
		lo80, hi80, lo95, hi95 *float64
		sigma2                 *float64
		nObs                   *int
	)
	err := row.Scan(
		&rec.RunID, &rec.ConfigHash, &rec.ForecastDate, &rec.TargetDate, &rec.Horizon, &rec.Regime,
		&rec.Point, &rec.P10, &rec.P50, &rec.P90, &rec.FeatureSetID, &rec.ArtifactKeys,
		&rec.QuantileWarn, &bDate, &bPoint, &bVar,
		&lo80, &hi80, &lo95, &hi95, &sigma2, &nObs, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if bPoint != nil {
		rec.Bayes = &Update{
			UpdateDate:    *bDate,
			PointForecast: *bPoint,
			Variance:      *bVar,
			Lower80:       *lo80,
			Upper80:       *hi80,
			Lower95:       *lo95,
			Upper95:       *hi95,
			Sigma2:        *sigma2,
			NObs:          *nObs,
		}
	}
	return &rec, nil
}

// Latest 지평별 최신 예측
func (r *Repository) Latest(ctx context.Context, horizon int) (*Record, error) {
	query := selectForecast + `
	WHERE horizon = $1
	ORDER BY created_at DESC
	LIMIT 1`

	return scanRecord(r.pool.QueryRow(ctx, query, horizon))
}

// LatestEach 모든 지평의 최신 예측
func (r *Repository) LatestEach(ctx context.Context) ([]*Record, error) {
	query := `
	SELECT DISTINCT ON (horizon)
	       run_id, config_hash, forecast_date, target_date, horizon, regime,
	       point_forecast, p10, p50, p90, feature_set_id, artifact_keys,
	       quantile_warn, bayes_update_date, bayes_point, bayes_variance,
	       lower_80, upper_80, lower_95, upper_95, sigma2, n_obs, created_at
	FROM analytics.forecasts
	ORDER BY horizon, created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

// ListByTargetDate 타깃 일자 범위로 조회
func (r *Repository) ListByTargetDate(ctx context.Context, from, to time.Time) ([]*Record, error) {
	query := selectForecast + `
	WHERE target_date BETWEEN $1 AND $2
	ORDER BY target_date, horizon`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	return recs, rows.Err()
}
