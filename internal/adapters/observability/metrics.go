package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog/log"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "navigatum", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "lang", "status"}, // lang: de|en|none
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "navigatum", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "navigatum", Name: "external_requests_total", Help: "Outbound requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "navigatum", Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "navigatum", Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del
	)
	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "navigatum", Name: "sync_runs_total", Help: "Sync runs by outcome."},
		[]string{"mode", "outcome"}, // outcome: ok|partial|failed|skipped
	)
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "navigatum", Name: "sync_run_duration_seconds",
			Help:    "Sync run duration seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)
	SyncRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "navigatum", Name: "sync_records_total", Help: "Projection writes by language and outcome."},
		[]string{"lang", "outcome"}, // outcome: ok|failed
	)
)

// Serve exposes reg on addr in the background. Empty addr disables it.
func Serve(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return // disabled
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))

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
	reg.MustRegister(HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency, CacheEvents,
		SyncRuns, SyncDuration, SyncRecords)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Push sends the registry to a Pushgateway. The syncer exits after one run,
// so nothing would be around to be scraped.
func Push(url, job string, reg *prometheus.Registry) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(reg).Push(); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

func ObserveHTTP(route, method, lang string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, lang, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveSyncRun(mode, outcome string, dur time.Duration) {
	SyncRuns.WithLabelValues(mode, outcome).Inc()
	SyncDuration.WithLabelValues(mode).Observe(dur.Seconds())
}

func ObserveSyncRecord(lang, outcome string) {
	SyncRecords.WithLabelValues(lang, outcome).Inc()
}
