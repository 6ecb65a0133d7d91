package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/wonny/fuelcast/internal/api"
	"github.com/wonny/fuelcast/internal/api/handlers"
	"github.com/wonny/fuelcast/internal/forecast"
	"github.com/wonny/fuelcast/internal/metrics"
	"github.com/wonny/fuelcast/internal/validation"
	"github.com/wonny/fuelcast/pkg/database"
	"github.com/wonny/fuelcast/pkg/redis"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "API 서버 시작",
	Long: `REST API 서버를 시작합니다.

이 명령어는:
- HTTP API 서버 시작
- 최신 예측 및 검증 리포트 조회 엔드포인트 제공
- Redis 캐시 / Prometheus 메트릭 (설정 시)

Endpoints:
  GET  /health                      - Health check
  GET  /metrics                     - Prometheus 메트릭
  GET  /api/forecast/latest         - 최신 예측 (?horizon=7)
  GET  /api/forecast/latest/all     - 호라이즌별 최신 예측
  GET  /api/forecast/by-target-date - 타깃 날짜 범위 조회
  GET  /api/regimes/latest          - 현재 공급 레짐
  GET  /api/validation/runs         - 검증 런 목록
  GET  /api/validation/runs/{id}    - 특정 런 리포트
  GET  /api/validation/latest       - 최신 런 요약 (?by=horizon|year)
  GET  /api/validation/folds        - 폴드 레코드 (?year=&horizon=)

Example:
  go run ./cmd/fuelcast api
  go run ./cmd/fuelcast api --port 8090`,
	RunE: runAPIServer,
}

var (
	apiPort string
)

func init() {
	rootCmd.AddCommand(apiCmd)

	// Flags
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (기본: PORT 환경변수)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Fuelcast API Server ===")

	// 1. Load config + logger
	cfg, log, err := initDeps()
	if err != nil {
		return err
	}

	// Override port if flag is set
	if apiPort != "" {
		cfg.Port = apiPort
	}

	rc, _, err := loadRunConfig(log)
	if err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"port": cfg.Port,
		"env":  cfg.Env,
	}).Info("Initializing API server")

	// 2. Connect to database
	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	log.Info("Connected to database")

	// 3. Cache (no-op unless REDIS_ENABLED)
	redisClient, err := redis.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()
	cache := redis.NewCache(redisClient, "fuelcast")
	if redisClient.Enabled() {
		log.Info("Connected to Redis")
	}

	// 4. Metrics collector
	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector, err = metrics.NewCollector()
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
	}

	// 5. Rate limiter
	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	// 6. Create repositories
	forecastRepo := forecast.NewRepository(db.Pool)
	validationRepo := validation.NewRepository(db.Pool)

	// 7. Create handlers
	forecastHandler := handlers.NewForecastHandler(forecastRepo, cache, rc.Forecast, collector, log)
	validationHandler := handlers.NewValidationHandler(validationRepo, cache, log)

	// 8. Create router
	router := api.NewRouter(forecastHandler, validationHandler, collector, limiter, log)

	// 9. Create server
	server := api.New(cfg, log, router)

	// 10. Start server with graceful shutdown
	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	log.Info("API server started successfully")
	fmt.Printf("\n✅ Server running on http://localhost:%s\n", cfg.Port)
	fmt.Println("\nAvailable endpoints:")
	fmt.Println("  GET  /health")
	if collector != nil {
		fmt.Println("  GET  /metrics")
	}
	fmt.Println("  GET  /api/forecast/latest?horizon=7")
	fmt.Println("  GET  /api/forecast/latest/all")
	fmt.Println("  GET  /api/forecast/by-target-date?from=&to=")
	fmt.Println("  GET  /api/regimes/latest")
	fmt.Println("  GET  /api/validation/runs")
	fmt.Println("  GET  /api/validation/latest?by=horizon")
	fmt.Println("  GET  /api/validation/folds?year=2024&horizon=7")
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Server stopped")
	return nil
}
