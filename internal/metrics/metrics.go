package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turfweather_provider_calls_total",
			Help: "Total weather provider API calls",
		},
		[]string{"provider", "endpoint", "status"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turfweather_provider_latency_seconds",
			Help:    "Weather provider API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "endpoint"},
	)

	ProviderCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turfweather_provider_cache_hits_total",
			Help: "Provider responses served from the response cache",
		},
		[]string{"provider"},
	)

	RecordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turfweather_records_ingested_total",
			Help: "Total records successfully persisted",
		},
		[]string{"kind"},
	)

	CycleFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turfweather_cycle_failures_total",
			Help: "Ingestion cycles that aborted with an error",
		},
		[]string{"cycle"},
	)

	LastSuccessfulFetch = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "turfweather_last_successful_fetch_timestamp_seconds",
			Help: "Unix time of the last completed daily cycle",
		},
	)
)
