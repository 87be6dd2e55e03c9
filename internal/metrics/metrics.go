package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BatchRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fv_validation_batch_runs_total",
			Help: "Validation batch runs by status",
		},
		[]string{"status"},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fv_validation_batch_duration_seconds",
			Help:    "Wall-clock duration of validation batches",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	IndicatorsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fv_indicators_processed_total",
			Help: "Indicators processed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	VendorChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fv_vendor_checks_total",
			Help: "Vendor adapter invocations by validator and status",
		},
		[]string{"validator", "status"},
	)

	VendorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fv_vendor_request_duration_seconds",
			Help:    "Latency of external vendor requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"validator"},
	)

	QuotaDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fv_quota_denials_total",
			Help: "Rate limiter denials by validator and reason",
		},
		[]string{"validator", "reason"},
	)

	WhitelistSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fv_whitelist_domains",
			Help: "Domains in the loaded whitelist snapshot",
		},
		[]string{"list"},
	)
)

// Indicator outcomes
const (
	OutcomeValidated   = "validated"
	OutcomeWhitelisted = "whitelisted"
	OutcomeNotPromoted = "not_promoted"
	OutcomeDemoted     = "demoted"
	OutcomeFailed      = "failed"
)

// Vendor check statuses
const (
	CheckStatusChecked       = "checked"
	CheckStatusCached        = "cached"
	CheckStatusQuotaDenied   = "quota_denied"
	CheckStatusError         = "error"
	CheckStatusNotConfigured = "not_configured"
	CheckStatusPaced         = "paced"
)
