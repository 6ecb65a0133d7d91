package validation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wonny/fuelcast/internal/dataset"
	"github.com/wonny/fuelcast/internal/ensemble"
	"github.com/wonny/fuelcast/internal/metrics"
	"github.com/wonny/fuelcast/internal/models"
	"github.com/wonny/fuelcast/internal/regime"
	"github.com/wonny/fuelcast/internal/runconfig"
	"github.com/wonny/fuelcast/pkg/logger"
)

// DefaultWorkers bounds fold parallelism when Options.Workers is unset.
const DefaultWorkers = 4

// FeatureSets names the columns each component model trains on.
type FeatureSets struct {
	Baseline     dataset.FeatureSet
	Fundamentals dataset.FeatureSet
	Basis        dataset.FeatureSet
}

// DefaultFeatureSets returns the shipped gold-layer sets.
func DefaultFeatureSets() FeatureSets {
	return FeatureSets{
		Baseline:     dataset.BaselineFeatures(),
		Fundamentals: dataset.FundamentalsFeatures(),
		Basis:        dataset.BasisFeatures(),
	}
}

// Options tunes a harness beyond what the run config carries.
type Options struct {
	FeatureSets *FeatureSets       // nil → DefaultFeatureSets
	Workers     int                // <= 0 → DefaultWorkers
	Metrics     *metrics.Collector // nil → no metrics
}

// Fold is one (horizon, holdout-year) combination.
type Fold struct {
	Horizon int
	Year    int
}

// Harness drives walk-forward validation: one fold per (horizon × holdout
// year), each training on history whose target dates fall strictly before
// the holdout October and evaluating inside that October.
// ⭐ SSOT: 워크포워드 폴드 실행은 여기서만
type Harness struct {
	panel      *dataset.Panel
	cfg        *runconfig.Config
	sets       FeatureSets
	union      dataset.FeatureSet
	classifier *regime.Classifier
	ens        *ensemble.Ensemble
	workers    int
	logger     *logger.Logger
	metrics    *metrics.Collector
}

// NewHarness wires a fold runner. Configuration errors (bad thresholds,
// missing regime weights, fundamentals outside the baseline columns, missing
// regime metric) surface here, before any fold runs.
func NewHarness(panel *dataset.Panel, cfg *runconfig.Config, log *logger.Logger, opts Options) (*Harness, error) {
	sets := DefaultFeatureSets()
	if opts.FeatureSets != nil {
		sets = *opts.FeatureSets
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	classifier, err := regime.NewClassifier(cfg.Regimes.Thresholds)
	if err != nil {
		return nil, err
	}
	ens, err := ensemble.New(cfg.RegimeWeights())
	if err != nil {
		return nil, err
	}

	// 잔차 2단계는 베이스라인 프레임에서 컬럼을 고르므로 부분집합이어야 함
	for _, f := range sets.Fundamentals.Features {
		if !sets.Baseline.Contains(f.Name) {
			return nil, fmt.Errorf("validation: fundamentals feature %s not in baseline set %s", f.Name, sets.Baseline.ID)
		}
	}

	union, err := dataset.Union(sets.Baseline.ID+"+"+sets.Basis.ID, sets.Baseline, sets.Basis)
	if err != nil {
		return nil, err
	}
	if !panel.HasColumn(cfg.Data.MetricColumn) {
		return nil, fmt.Errorf("validation: regime metric column %s not in panel", cfg.Data.MetricColumn)
	}

	h := &Harness{
		panel:      panel,
		cfg:        cfg,
		sets:       sets,
		union:      union,
		classifier: classifier,
		ens:        ens,
		workers:    workers,
		logger:     log.WithField("module", "validation"),
		metrics:    opts.Metrics,
	}
	// 누락된 래그 컬럼을 선계산: 폴드가 병렬로 도는 동안 패널은 읽기 전용
	if err := dataset.MaterializeLags(panel, union); err != nil {
		return nil, err
	}
	return h, nil
}

// Folds enumerates the configured (horizon × year) grid.
func (h *Harness) Folds() []Fold {
	folds := make([]Fold, 0, len(h.cfg.Horizons)*len(h.cfg.Holdout.Years))
	for _, horizon := range h.cfg.Horizons {
		for _, year := range h.cfg.Holdout.Years {
			folds = append(folds, Fold{Horizon: horizon, Year: year})
		}
	}
	return folds
}

type foldOutcome struct {
	fold    Fold
	records []Record
	err     error // 치명적 오류만: 전체 실행 중단
}

// Run executes every fold through a bounded worker pool and assembles the
// report. Temporal leakage aborts the run outright — every downstream number
// would be meaningless. Fold-local problems (thin training window, empty
// holdout, a model that fails to fit) become skipped records, and the run
// degrades to a partial report instead of failing wholesale.
func (h *Harness) Run(ctx context.Context) (*Report, error) {
	folds := h.Folds()
	hash, err := runconfig.Hash(h.cfg)
	if err != nil {
		return nil, err
	}

	h.logger.WithFields(map[string]interface{}{
		"folds":    len(folds),
		"horizons": len(h.cfg.Horizons),
		"years":    len(h.cfg.Holdout.Years),
		"workers":  h.workers,
	}).Info("Starting walk-forward validation")

	report := &Report{
		RunID:      uuid.NewString(),
		ConfigHash: hash,
		CreatedAt:  time.Now().UTC(),
	}

	var mu sync.Mutex
	okCount, skipCount := 0, 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)
	for _, fold := range folds {
		fold := fold
		g.Go(func() error {
			// 치명적 오류가 이미 났으면 남은 폴드는 건너뛴다
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			out := h.runFold(fold)
			h.metrics.ObserveFitDuration(fold.Horizon, time.Since(start).Seconds())
			if out.err != nil {
				return fmt.Errorf("fold horizon=%d year=%d: %w", out.fold.Horizon, out.fold.Year, out.err)
			}

			mu.Lock()
			defer mu.Unlock()
			report.Append(out.records...)
			foldOK := false
			for _, rec := range out.records {
				if rec.Status == StatusOK {
					okCount++
					foldOK = true
				} else {
					skipCount++
				}
			}
			if foldOK {
				h.metrics.RecordFold("ok")
			} else {
				h.metrics.RecordFold("skipped")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.Sort()

	h.logger.WithFields(map[string]interface{}{
		"run_id":          report.RunID,
		"records_ok":      okCount,
		"records_skipped": skipCount,
	}).Info("Walk-forward validation completed")

	return report, nil
}

// runFold trains the full stack for one fold and evaluates it inside the
// holdout October. A single frame carries the union of all model columns so
// every model sees the same rows and per-row predictions line up for the
// ensemble.
func (h *Harness) runFold(fold Fold) foldOutcome {
	cfg := h.cfg

	builder, err := dataset.NewFrameBuilder(h.panel, cfg.Data.TargetColumn)
	if err != nil {
		return foldOutcome{fold: fold, err: err}
	}
	full, err := builder.Build(h.union, fold.Horizon)
	if err != nil {
		if dataset.IsInsufficientData(err) {
			return h.skipFold(fold, 0, 0, err.Error())
		}
		// 누출 또는 깨진 데이터 계약: 부분 리포트 대상이 아님
		return foldOutcome{fold: fold, err: err}
	}

	holdoutStart := time.Date(fold.Year, time.October, 1, 0, 0, 0, 0, time.UTC)
	holdoutEnd := time.Date(fold.Year, time.November, 1, 0, 0, 0, 0, time.UTC)
	train, _ := full.SplitByTargetDate(holdoutStart)
	holdout := full.WindowByTargetDate(holdoutStart, holdoutEnd)

	if train.Len() < cfg.Training.MinTrainRows {
		return h.skipFold(fold, train.Len(), holdout.Len(),
			fmt.Sprintf("%d training rows, need %d", train.Len(), cfg.Training.MinTrainRows))
	}
	if holdout.Len() == 0 {
		return h.skipFold(fold, train.Len(), 0, "no holdout observations in October")
	}

	trainBase, err := train.Select(h.sets.Baseline)
	if err != nil {
		return foldOutcome{fold: fold, err: err}
	}
	holdBase, err := holdout.Select(h.sets.Baseline)
	if err != nil {
		return foldOutcome{fold: fold, err: err}
	}
	trainBasis, err := train.Select(h.sets.Basis)
	if err != nil {
		return foldOutcome{fold: fold, err: err}
	}
	holdBasis, err := holdout.Select(h.sets.Basis)
	if err != nil {
		return foldOutcome{fold: fold, err: err}
	}

	labels, err := h.regimeLabels(holdout)
	if err != nil {
		return foldOutcome{fold: fold, err: err}
	}

	nTrain, nTest := train.Len(), holdout.Len()
	recs := make([]Record, 0, 4+len(cfg.QuantileLevels()))

	// ===== Baseline =====
	baseArt, _, err := models.TrainRidge(models.NameRidgeBaseline, trainBase, cfg.Training.Alphas, cfg.Training.CVSplits)
	if err != nil {
		// 베이스라인 없이는 어떤 모델도 평가 불가
		return h.skipFold(fold, nTrain, nTest, fmt.Sprintf("baseline: %v", err))
	}
	basePreds, err := baseArt.PredictFrame(holdBase)
	if err != nil {
		return foldOutcome{fold: fold, err: err}
	}
	rec, err := okRecord(fold, models.NameRidgeBaseline, baseArt.Alpha, nTrain, nTest, holdBase.Y, basePreds)
	if err != nil {
		return foldOutcome{fold: fold, err: err}
	}
	recs = append(recs, rec)

	var blockers []string

	// ===== Residual premium =====
	var residPreds []float64
	residArt, err := models.TrainResidual(trainBase, h.sets.Fundamentals, baseArt, cfg.Training.Alphas, cfg.Training.CVSplits)
	if err != nil {
		recs = append(recs, skipRecord(fold, models.NameResidual, err.Error(), nTrain, nTest))
		blockers = append(blockers, fmt.Sprintf("%s: %v", models.NameResidual, err))
	} else {
		residPreds, err = residArt.PredictFrame(holdBase)
		if err != nil {
			return foldOutcome{fold: fold, err: err}
		}
		rec, err := okRecord(fold, models.NameResidual, residArt.Stage2.Alpha, nTrain, nTest, holdBase.Y, residPreds)
		if err != nil {
			return foldOutcome{fold: fold, err: err}
		}
		recs = append(recs, rec)
	}

	// ===== Basis-adjusted =====
	var basisPreds []float64
	basisArt, err := models.TrainBasis(trainBasis, cfg.Training.Alphas, cfg.Training.CVSplits)
	if err != nil {
		if dataset.IsTemporalLeakage(err) {
			return foldOutcome{fold: fold, err: err}
		}
		recs = append(recs, skipRecord(fold, models.NameBasis, err.Error(), nTrain, nTest))
		blockers = append(blockers, fmt.Sprintf("%s: %v", models.NameBasis, err))
	} else {
		basisPreds, err = basisArt.PredictFrame(holdBasis)
		if err != nil {
			return foldOutcome{fold: fold, err: err}
		}
		rec, err := okRecord(fold, models.NameBasis, basisArt.Alpha, nTrain, nTest, holdBasis.Y, basisPreds)
		if err != nil {
			return foldOutcome{fold: fold, err: err}
		}
		recs = append(recs, rec)
	}

	// ===== Ensemble =====
	if len(blockers) > 0 {
		recs = append(recs, skipRecord(fold, models.NameEnsemble, strings.Join(blockers, "; "), nTrain, nTest))
	} else {
		ensPreds, err := h.ens.CombineSeries(labels, basePreds, residPreds, basisPreds)
		if err != nil {
			return foldOutcome{fold: fold, err: err}
		}
		rec, err := okRecord(fold, models.NameEnsemble, 0, nTrain, nTest, holdout.Y, ensPreds)
		if err != nil {
			return foldOutcome{fold: fold, err: err}
		}
		recs = append(recs, rec)
	}

	// ===== Quantiles =====
	qrecs, err := h.quantileRecords(fold, trainBase, holdBase, nTrain, nTest)
	if err != nil {
		return foldOutcome{fold: fold, err: err}
	}
	recs = append(recs, qrecs...)

	return foldOutcome{fold: fold, records: recs}
}

// quantileRecords fits one quantile model per configured level on the fold's
// training frame and scores each with pinball loss on the holdout. Crossed
// quantiles are reported on the records and logged, never corrected.
func (h *Harness) quantileRecords(fold Fold, trainBase, holdBase *dataset.Frame, nTrain, nTest int) ([]Record, error) {
	cfg := h.cfg
	qopts := models.QuantileOptions{
		Alpha:   cfg.Quantile.Alpha,
		MaxIter: cfg.Training.MaxIterations,
		Tol:     cfg.Training.Tolerance,
	}

	levels := cfg.QuantileLevels()
	recs := make([]Record, 0, len(levels))
	preds := make(map[float64][]float64, len(levels))

	for _, q := range levels {
		name := models.QuantileKey(models.NameQuantile, q)
		res, err := models.TrainQuantile(trainBase, q, qopts)
		if err != nil {
			recs = append(recs, skipRecord(fold, name, err.Error(), nTrain, nTest))
			continue
		}
		if !res.Converged {
			h.logger.WithFields(map[string]interface{}{
				"horizon":    fold.Horizon,
				"year":       fold.Year,
				"quantile":   q,
				"iterations": res.Iterations,
			}).Warn("Quantile fit did not converge")
		}
		p, err := res.Artifact.PredictFrame(holdBase)
		if err != nil {
			return nil, err
		}
		pin, err := models.PinballLoss(holdBase.Y, p, q)
		if err != nil {
			return nil, err
		}
		preds[q] = p
		recs = append(recs, Record{
			Horizon: fold.Horizon,
			Year:    fold.Year,
			Model:   name,
			Status:  StatusOK,
			Alpha:   cfg.Quantile.Alpha,
			NTrain:  nTrain,
			NTest:   nTest,
			Pinball: &pin,
		})
	}

	if len(preds) >= 2 {
		crossed, err := models.QuantileCrossings(preds)
		if err != nil {
			return nil, err
		}
		if len(crossed) > 0 {
			h.logger.WithFields(map[string]interface{}{
				"horizon": fold.Horizon,
				"year":    fold.Year,
				"rows":    len(crossed),
			}).Warn("Quantile crossing detected in holdout predictions")
			for i := range recs {
				if recs[i].Status == StatusOK {
					recs[i].Crossings = len(crossed)
				}
			}
		}
	}

	return recs, nil
}

// regimeLabels classifies the supply metric at each holdout as-of date. The
// regime is decided at forecast time, never at the target date.
func (h *Harness) regimeLabels(holdout *dataset.Frame) ([]regime.Regime, error) {
	metric, err := h.panel.ValuesAt(h.cfg.Data.MetricColumn, holdout.Dates)
	if err != nil {
		return nil, err
	}
	return h.classifier.ClassifySeries(metric), nil
}

// skipFold records the whole fold as skipped, one record per model.
func (h *Harness) skipFold(fold Fold, nTrain, nTest int, reason string) foldOutcome {
	h.logger.WithFields(map[string]interface{}{
		"horizon": fold.Horizon,
		"year":    fold.Year,
		"n_train": nTrain,
		"reason":  reason,
	}).Warn("Skipping fold")

	names := []string{models.NameRidgeBaseline, models.NameResidual, models.NameBasis, models.NameEnsemble}
	for _, q := range h.cfg.QuantileLevels() {
		names = append(names, models.QuantileKey(models.NameQuantile, q))
	}
	recs := make([]Record, 0, len(names))
	for _, name := range names {
		recs = append(recs, skipRecord(fold, name, reason, nTrain, nTest))
	}
	return foldOutcome{fold: fold, records: recs}
}

func okRecord(fold Fold, model string, alpha float64, nTrain, nTest int, actual, predicted []float64) (Record, error) {
	m, err := models.Evaluate(actual, predicted)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Horizon: fold.Horizon,
		Year:    fold.Year,
		Model:   model,
		Status:  StatusOK,
		Alpha:   alpha,
		NTrain:  nTrain,
		NTest:   nTest,
		Metrics: m,
	}, nil
}

func skipRecord(fold Fold, model, reason string, nTrain, nTest int) Record {
	return Record{
		Horizon: fold.Horizon,
		Year:    fold.Year,
		Model:   model,
		Status:  StatusSkipped,
		Reason:  reason,
		NTrain:  nTrain,
		NTest:   nTest,
	}
}
