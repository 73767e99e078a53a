// Package monitoring exposes the scan engine's Prometheus metrics,
// adapted from the teacher's monitoring.Metrics
// (internal/monitoring/metrics.go) and monitoring.AlertMetrics
// (internal/monitoring/alerts.go).
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ScannerMetrics holds the Prometheus instruments tracking scan
// engine activity.
type ScannerMetrics struct {
	FetchesTotal       *prometheus.CounterVec
	FetchDuration      *prometheus.HistogramVec
	DatasourceDisabled *prometheus.GaugeVec

	ViolationsTotal    *prometheus.CounterVec
	ViolationsActive   prometheus.Gauge
	ViolationsSuppress *prometheus.CounterVec

	ChannelSendsTotal *prometheus.CounterVec

	ScanTickDuration prometheus.Histogram
	ScannerUptime    prometheus.GaugeFunc
}

// NewScannerMetrics registers and returns a ScannerMetrics instance.
// uptimeFn is polled each scrape to report scanner uptime in seconds.
func NewScannerMetrics(uptimeFn func() float64) *ScannerMetrics {
	m := &ScannerMetrics{
		FetchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pysentinel_datasource_fetches_total",
			Help: "Total number of datasource fetch attempts.",
		}, []string{"datasource", "status"}),
		FetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pysentinel_datasource_fetch_duration_seconds",
			Help:    "Datasource fetch latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"datasource"}),
		DatasourceDisabled: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pysentinel_datasource_disabled",
			Help: "1 if the datasource is currently auto-disabled, else 0.",
		}, []string{"datasource"}),
		ViolationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pysentinel_violations_total",
			Help: "Total number of violations delivered past the cooldown gate.",
		}, []string{"alert", "severity"}),
		ViolationsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pysentinel_violations_active",
			Help: "Number of currently active violations.",
		}),
		ViolationsSuppress: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pysentinel_violations_suppressed_total",
			Help: "Total number of violations dropped by the cooldown gate.",
		}, []string{"alert"}),
		ChannelSendsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pysentinel_channel_sends_total",
			Help: "Total number of alert channel delivery attempts.",
		}, []string{"channel", "status"}),
		ScanTickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pysentinel_scan_tick_duration_seconds",
			Help:    "Wall-clock duration of a single scan tick.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if uptimeFn != nil {
		m.ScannerUptime = promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pysentinel_scanner_uptime_seconds",
			Help: "Seconds elapsed since the scanner last entered RUNNING.",
		}, uptimeFn)
	}

	return m
}

// Handler returns the HTTP handler serving the registered metrics in
// the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
