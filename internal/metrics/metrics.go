// Package metrics holds the Prometheus collectors shared by all bots.
package metrics

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once       sync.Once
	collectors []prometheus.Collector
)

func register(cs ...prometheus.Collector) {
	collectors = append(collectors, cs...)
}

// MustRegister registers every collector with the default registry exactly once.
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(collectors...)
	})
}

func init() {
	register(updatesTotal, updatesRejected, vendorCalls, vendorLatencyMs, schedulerRuns)
}

var (
	updatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_updates_total",
			Help: "Telegram updates received per bot and kind.",
		},
		[]string{"bot", "kind"},
	)

	updatesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_updates_rejected_total",
			Help: "Updates dropped by the access filter.",
		},
		[]string{"bot"},
	)

	vendorCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vendor_calls_total",
			Help: "Calls to third-party APIs.",
		},
		[]string{"vendor", "op", "success"},
	)

	vendorLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vendor_call_latency_ms",
			Help:    "Third-party API latency in milliseconds.",
			Buckets: []float64{25, 50, 100, 200, 400, 800, 1600, 3000, 6000, 12000, 30000},
		},
		[]string{"vendor", "op"},
	)

	schedulerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_runs_total",
			Help: "Scheduled job executions.",
		},
		[]string{"job", "success"},
	)
)

// IncUpdate counts an update handed to a bot.
func IncUpdate(bot, kind string) {
	updatesTotal.WithLabelValues(norm(bot), norm(kind)).Inc()
}

// IncRejected counts an update dropped by the access filter.
func IncRejected(bot string) {
	updatesRejected.WithLabelValues(norm(bot)).Inc()
}

// ObserveVendorCall records one vendor call started at start.
func ObserveVendorCall(vendor, op string, start time.Time, err error) {
	vendorCalls.WithLabelValues(norm(vendor), norm(op), strconv.FormatBool(err == nil)).Inc()
	vendorLatencyMs.WithLabelValues(norm(vendor), norm(op)).Observe(float64(time.Since(start).Milliseconds()))
}

// IncSchedulerRun counts one scheduled job execution.
func IncSchedulerRun(job string, success bool) {
	schedulerRuns.WithLabelValues(norm(job), strconv.FormatBool(success)).Inc()
}

func norm(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
