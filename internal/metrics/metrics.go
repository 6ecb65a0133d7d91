package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes Prometheus metrics for the forecasting engine: inbound
// HTTP traffic, walk-forward fold outcomes, model fit latency, and the age of
// the freshest served forecast per horizon.
//
// A nil *Collector is a valid no-op recorder, so the harness and the API can
// run without metrics wired.
type Collector struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	foldsTotal      *prometheus.CounterVec
	fitDuration     *prometheus.HistogramVec
	forecastAge     *prometheus.GaugeVec
}

// NewCollector constructs a collector with its own registry.
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fuelcast",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for inbound HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fuelcast",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of inbound HTTP requests.",
	}, []string{"method", "path", "status"})

	foldsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fuelcast",
		Subsystem: "validation",
		Name:      "folds_total",
		Help:      "Walk-forward folds by outcome (ok or skipped).",
	}, []string{"status"})

	fitDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fuelcast",
		Subsystem: "validation",
		Name:      "fit_duration_seconds",
		Help:      "Wall-clock time spent training one fold.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"horizon"})

	forecastAge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fuelcast",
		Subsystem: "forecast",
		Name:      "age_hours",
		Help:      "Hours since the freshest served forecast, per horizon.",
	}, []string{"horizon"})

	for _, c := range []prometheus.Collector{
		requestDuration, requestTotal, foldsTotal, fitDuration, forecastAge,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &Collector{
		registry:        registry,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		foldsTotal:      foldsTotal,
		fitDuration:     fitDuration,
		forecastAge:     forecastAge,
	}, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.URL.Path

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

// RecordFold counts one fold outcome ("ok" or "skipped").
func (c *Collector) RecordFold(status string) {
	if c == nil {
		return
	}
	c.foldsTotal.WithLabelValues(status).Inc()
}

// ObserveFitDuration records the wall-clock training time of one fold.
func (c *Collector) ObserveFitDuration(horizon int, seconds float64) {
	if c == nil {
		return
	}
	c.fitDuration.WithLabelValues(strconv.Itoa(horizon)).Observe(seconds)
}

// SetForecastAge publishes the age of the freshest forecast for a horizon.
func (c *Collector) SetForecastAge(horizon int, hours float64) {
	if c == nil {
		return
	}
	c.forecastAge.WithLabelValues(strconv.Itoa(horizon)).Set(hours)
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
