package hportal

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus gauges/counters for a process's host
// portals: connection roster sizes, tuning counters, and GOP completion
// dispositions. A nil *Metrics is safe to call methods on -- every
// recording method is a no-op when metrics weren't configured, so
// callers never need to guard with a nil check of their own.
type Metrics struct {
	gopsSubmitted     prometheus.Counter
	connectAttempts   *prometheus.CounterVec
	completions       *prometheus.CounterVec
	nConn             prometheus.Gauge
	stableConn        prometheus.Gauge
	idleConn          prometheus.Gauge
	sleepingConn      prometheus.Gauge
	closingConn       prometheus.Gauge
	queueDepth        prometheus.Gauge
	cmdsProcessed     prometheus.Gauge
	failedConnAttempt prometheus.Gauge
	workerEvents      *prometheus.GaugeVec
}

// NewMetrics builds and registers a Metrics collector against the given
// Prometheus registerer (prometheus.DefaultRegisterer if nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		gopsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hportal_gops_submitted_total",
			Help: "Total number of GOPs submitted to a host portal.",
		}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hportal_connect_attempts_total",
			Help: "Connect attempts made by host connection senders, by outcome.",
		}, []string{"outcome"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hportal_gop_completions_total",
			Help: "GOP completions by final status.",
		}, []string{"status"}),
		nConn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hportal_connections", Help: "Current number of live host connections.",
		}),
		stableConn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hportal_stable_connections", Help: "Adaptive estimate of sustainable connections.",
		}),
		idleConn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hportal_idle_connections", Help: "Connections currently idle waiting for work.",
		}),
		sleepingConn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hportal_sleeping_connections", Help: "Connections paused after a failure.",
		}),
		closingConn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hportal_closing_connections", Help: "Connections currently tearing down.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hportal_queue_depth", Help: "GOPs waiting in a host portal's queue.",
		}),
		cmdsProcessed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hportal_cmds_processed", Help: "Cumulative GOPs processed by a host portal.",
		}),
		failedConnAttempt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hportal_failed_conn_attempts", Help: "Consecutive failed connect attempts.",
		}),
		workerEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hportal_worker_events",
			Help: "Sender/receiver lifecycle diagnostics (starts, exits, underflow).",
		}, []string{"event"}),
	}

	reg.MustRegister(
		m.gopsSubmitted, m.connectAttempts, m.completions,
		m.nConn, m.stableConn, m.idleConn, m.sleepingConn, m.closingConn,
		m.queueDepth, m.cmdsProcessed, m.failedConnAttempt, m.workerEvents,
	)

	return m
}

func (m *Metrics) observeSubmit(host string, port int) {
	if m == nil {
		return
	}
	m.gopsSubmitted.Inc()
}

func (m *Metrics) observeConnectAttempt(ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.connectAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeCompletion(status Status) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(status.String()).Inc()
}

// Refresh snapshots a portal's current counters into the gauges. The
// engine itself has no ticking goroutine for metrics, so the gauges change
// only when a caller runs Refresh; cmd/hportald runs it once, before
// printing its final stats.
func (m *Metrics) Refresh(stats Stats) {
	if m == nil {
		return
	}
	m.nConn.Set(float64(stats.NConn))
	m.stableConn.Set(float64(stats.StableConn))
	m.idleConn.Set(float64(stats.IdleConn))
	m.sleepingConn.Set(float64(stats.SleepingConn))
	m.closingConn.Set(float64(stats.ClosingConn))
	m.queueDepth.Set(float64(stats.QueueDepth))
	m.cmdsProcessed.Set(float64(stats.CmdsProcessed))
	m.failedConnAttempt.Set(float64(stats.FailedConnAttempts))
	m.workerEvents.WithLabelValues("send_start").Set(float64(stats.OopsSendStart))
	m.workerEvents.WithLabelValues("send_end").Set(float64(stats.OopsSendEnd))
	m.workerEvents.WithLabelValues("recv_start").Set(float64(stats.OopsRecvStart))
	m.workerEvents.WithLabelValues("recv_end").Set(float64(stats.OopsRecvEnd))
	m.workerEvents.WithLabelValues("conn_underflow").Set(float64(stats.OopsNeg))
}

// Handler returns the HTTP handler a metrics server mounts at
// MetricsConfig.Path.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ListenAndServe starts a dedicated metrics HTTP server on addr, serving
// at path (e.g. ":9090", "/metrics"). Blocks until the server stops.
func ListenAndServe(addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	return http.ListenAndServe(addr, mux) //nolint:gosec
}
