// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScrapedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_pipeline_scraped_messages_total",
			Help: "Messages written to batch artifacts by channel",
		},
		[]string{"channel"},
	)

	ChannelRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_pipeline_channel_runs_total",
			Help: "Channel scrapes by terminal status",
		},
		[]string{"status"},
	)

	RateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "channel_pipeline_rate_limit_waits_total",
			Help: "Rate-limit signals honoured by the scraper",
		},
	)

	LoadedRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "channel_pipeline_loaded_rows_total",
			Help: "Raw messages inserted by the loader",
		},
	)

	EnrichedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_pipeline_enriched_records_total",
			Help: "Derived rows written by kind",
		},
		[]string{"kind"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "channel_pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"stage"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
