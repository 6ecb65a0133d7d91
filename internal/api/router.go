package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/wonny/fuelcast/internal/api/handlers"
	"github.com/wonny/fuelcast/internal/metrics"
	"github.com/wonny/fuelcast/pkg/logger"
)

// NewRouter creates and configures the HTTP router. The collector and the
// limiter may be nil; the corresponding middleware then drops out.
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(
	forecastHandler *handlers.ForecastHandler,
	validationHandler *handlers.ValidationHandler,
	collector *metrics.Collector,
	limiter *rate.Limiter,
	log *logger.Logger,
) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	// Prometheus metrics
	if collector != nil {
		r.Handle("/metrics", collector.Handler()).Methods("GET")
	}

	// API v1 — 서빙 전용 읽기 경로
	api := r.PathPrefix("/api").Subrouter()

	// Forecast endpoints
	api.HandleFunc("/forecast/latest", forecastHandler.GetLatest).Methods("GET")
	api.HandleFunc("/forecast/latest/all", forecastHandler.GetLatestAll).Methods("GET")
	api.HandleFunc("/forecast/by-target-date", forecastHandler.GetByTargetDate).Methods("GET")
	api.HandleFunc("/regimes/latest", forecastHandler.GetRegime).Methods("GET")

	// Validation endpoints
	api.HandleFunc("/validation/runs", validationHandler.ListRuns).Methods("GET")
	api.HandleFunc("/validation/runs/{id}", validationHandler.GetRun).Methods("GET")
	api.HandleFunc("/validation/latest", validationHandler.GetLatestSummary).Methods("GET")
	api.HandleFunc("/validation/folds", validationHandler.GetFolds).Methods("GET")

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))
	r.Use(rateLimitMiddleware(limiter))
	r.Use(collector.InstrumentHandler)

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "fuelcast-api",
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Call next handler
			next.ServeHTTP(w, r)

			// Log request
			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitMiddleware rejects requests beyond the configured rate with 429.
// A nil limiter disables limiting.
func rateLimitMiddleware(limiter *rate.Limiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "Rate limit exceeded",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
