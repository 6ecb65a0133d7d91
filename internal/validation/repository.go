package validation

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository 워크포워드 리포트 저장소
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository 새 저장소 생성
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RunInfo identifies one persisted validation run.
type RunInfo struct {
	RunID      string    `json:"run_id"`
	ConfigHash string    `json:"config_hash"`
	CreatedAt  time.Time `json:"created_at"`
}

// SaveReport persists the run row and every record. Re-saving the same run
// id is idempotent.
func (r *Repository) SaveReport(ctx context.Context, report *Report) error {
	runQuery := `
		INSERT INTO analytics.validation_runs (run_id, config_hash, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id) DO NOTHING`

	if _, err := r.pool.Exec(ctx, runQuery, report.RunID, report.ConfigHash, report.CreatedAt); err != nil {
		return err
	}
	if len(report.Records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	recQuery := `
		INSERT INTO analytics.validation_records
			(run_id, horizon, year, model, status, reason, alpha, n_train, n_test,
			 rmse, mae, r2, mape, pinball, crossings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (run_id, horizon, year, model) DO UPDATE SET
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			alpha = EXCLUDED.alpha,
			n_train = EXCLUDED.n_train,
			n_test = EXCLUDED.n_test,
			rmse = EXCLUDED.rmse,
			mae = EXCLUDED.mae,
			r2 = EXCLUDED.r2,
			mape = EXCLUDED.mape,
			pinball = EXCLUDED.pinball,
			crossings = EXCLUDED.crossings`

	for _, rec := range report.Records {
		batch.Queue(recQuery, report.RunID, rec.Horizon, rec.Year, rec.Model,
			rec.Status, rec.Reason, rec.Alpha, rec.NTrain, rec.NTest,
			rec.RMSE, rec.MAE, rec.R2, rec.MAPE, rec.Pinball, rec.Crossings)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range report.Records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}

	return nil
}

// GetReport loads one run with all of its records.
func (r *Repository) GetReport(ctx context.Context, runID string) (*Report, error) {
	runQuery := `
		SELECT run_id, config_hash, created_at
		FROM analytics.validation_runs
		WHERE run_id = $1`

	report := &Report{}
	err := r.pool.QueryRow(ctx, runQuery, runID).Scan(
		&report.RunID, &report.ConfigHash, &report.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	recQuery := `
		SELECT horizon, year, model, status, reason, alpha, n_train, n_test,
			   rmse, mae, r2, mape, pinball, crossings
		FROM analytics.validation_records
		WHERE run_id = $1
		ORDER BY horizon, year, model`

	rows, err := r.pool.Query(ctx, recQuery, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.Horizon, &rec.Year, &rec.Model, &rec.Status, &rec.Reason,
			&rec.Alpha, &rec.NTrain, &rec.NTest,
			&rec.RMSE, &rec.MAE, &rec.R2, &rec.MAPE, &rec.Pinball, &rec.Crossings,
		); err != nil {
			return nil, err
		}
		report.Records = append(report.Records, rec)
	}

	return report, rows.Err()
}

// LatestReport loads the most recent run.
func (r *Repository) LatestReport(ctx context.Context) (*Report, error) {
	query := `
		SELECT run_id
		FROM analytics.validation_runs
		ORDER BY created_at DESC
		LIMIT 1`

	var runID string
	if err := r.pool.QueryRow(ctx, query).Scan(&runID); err != nil {
		return nil, err
	}
	return r.GetReport(ctx, runID)
}

// ListRuns returns recent runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]RunInfo, error) {
	query := `
		SELECT run_id, config_hash, created_at
		FROM analytics.validation_runs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var info RunInfo
		if err := rows.Scan(&info.RunID, &info.ConfigHash, &info.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, info)
	}

	return runs, rows.Err()
}
