package observability

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pinintel", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pinintel", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pinintel", Name: "external_requests_total", Help: "Outbound provider requests."},
		[]string{"provider", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pinintel", Name: "external_request_duration_seconds",
			Help:    "Outbound provider request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "endpoint"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pinintel", Name: "cache_events_total", Help: "Place cache hits/misses/sets."},
		[]string{"cache", "event"}, // event: hit|miss|set|stale
	)
	QuotaDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pinintel", Name: "quota_decisions_total", Help: "Quota guard outcomes."},
		[]string{"decision"}, // allowed|denied|error
	)
	WaterfallTiers = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pinintel", Name: "waterfall_tiers_total", Help: "Image waterfall tier outcomes."},
		[]string{"tier", "outcome"}, // outcome: hit|empty|skip|error
	)
	IngestFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pinintel", Name: "ingest_failures_total", Help: "Image ingestion failures by stage."},
		[]string{"tier", "stage"}, // stage: init|download|upload
	)
)

func Serve() {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		return // disabled
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency,
		CacheEvents, QuotaDecisions, WaterfallTiers, IngestFailures)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(provider, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(provider, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(provider, endpoint).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) { // event: hit|miss|set|stale
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveQuota(decision string) {
	QuotaDecisions.WithLabelValues(decision).Inc()
}

func ObserveTier(tier, outcome string) {
	WaterfallTiers.WithLabelValues(tier, outcome).Inc()
}

func ObserveIngestFailure(tier, stage string) {
	IngestFailures.WithLabelValues(tier, stage).Inc()
}
