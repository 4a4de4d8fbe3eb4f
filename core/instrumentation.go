package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Instrumentation holds the Prometheus collectors of the engine.
// A nil *Instrumentation is valid and records nothing.
type Instrumentation struct {
	checksTotal        *prometheus.CounterVec
	checkDuration      *prometheus.HistogramVec
	runningChecks      prometheus.Gauge
	watchdogTimeouts   prometheus.Counter
	resultWriteErrors  prometheus.Counter
	alertsRaised       *prometheus.CounterVec
	alertsActive       prometheus.Gauge
	notifications      *prometheus.CounterVec
	metricsFlushErrors prometheus.Counter
	metricsBuffered    prometheus.Gauge
	healthVerdict      prometheus.Gauge
	healthRecoveries   *prometheus.CounterVec
	dbProbeValues      *prometheus.GaugeVec
}

// NewInstrumentation registers collectors on reg
func NewInstrumentation(reg prometheus.Registerer) *Instrumentation {
	factory := promauto.With(reg)
	return &Instrumentation{
		checksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "site_monitor",
			Name:      "checks_total",
			Help:      "Completed checks by kind and status.",
		}, []string{"kind", "status"}),
		checkDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "site_monitor",
			Name:      "check_duration_seconds",
			Help:      "Wall time of check executions.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
		}, []string{"kind"}),
		runningChecks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "site_monitor",
			Name:      "running_checks",
			Help:      "Checks currently holding a concurrency slot.",
		}),
		watchdogTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "site_monitor",
			Name:      "watchdog_timeouts_total",
			Help:      "Checks abandoned by the scheduler watchdog.",
		}),
		resultWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "site_monitor",
			Name:      "result_write_failures_total",
			Help:      "Check results that could not be persisted.",
		}),
		alertsRaised: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "site_monitor",
			Name:      "alerts_raised_total",
			Help:      "Alert raises including coalesced repeats.",
		}, []string{"type"}),
		alertsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "site_monitor",
			Name:      "alerts_active",
			Help:      "Unresolved alerts.",
		}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "site_monitor",
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and outcome.",
		}, []string{"channel", "outcome"}),
		metricsFlushErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "site_monitor",
			Name:      "metrics_flush_errors_total",
			Help:      "Failed metrics buffer flushes.",
		}),
		metricsBuffered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "site_monitor",
			Name:      "metrics_buffered",
			Help:      "Entries waiting in the metrics buffer.",
		}),
		healthVerdict: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "site_monitor",
			Name:      "health_verdict",
			Help:      "Last health verdict: 0 healthy, 1 degraded, 2 critical.",
		}),
		healthRecoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "site_monitor",
			Name:      "health_recoveries_total",
			Help:      "Recovery actions taken by the health supervisor.",
		}, []string{"action"}),
		dbProbeValues: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "site_monitor",
			Name:      "db_probe_value",
			Help:      "Latest value of each database probe.",
		}, []string{"probe"}),
	}
}

func (m *Instrumentation) observeCheck(kind CheckKind, status CheckStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(string(kind), string(status)).Inc()
	m.checkDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *Instrumentation) setRunning(n int) {
	if m == nil {
		return
	}
	m.runningChecks.Set(float64(n))
}

func (m *Instrumentation) watchdogFired() {
	if m == nil {
		return
	}
	m.watchdogTimeouts.Inc()
}

func (m *Instrumentation) resultWriteFailed() {
	if m == nil {
		return
	}
	m.resultWriteErrors.Inc()
}

func (m *Instrumentation) alertRaised(alertType string, active int) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(alertType).Inc()
	m.alertsActive.Set(float64(active))
}

func (m *Instrumentation) setActiveAlerts(active int) {
	if m == nil {
		return
	}
	m.alertsActive.Set(float64(active))
}

func (m *Instrumentation) notification(channel, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, outcome).Inc()
}

func (m *Instrumentation) metricsFlushFailed() {
	if m == nil {
		return
	}
	m.metricsFlushErrors.Inc()
}

func (m *Instrumentation) setMetricsBuffered(n int) {
	if m == nil {
		return
	}
	m.metricsBuffered.Set(float64(n))
}

func (m *Instrumentation) setHealthVerdict(v HealthVerdict) {
	if m == nil {
		return
	}
	switch v {
	case HealthCritical:
		m.healthVerdict.Set(2)
	case HealthDegraded:
		m.healthVerdict.Set(1)
	default:
		m.healthVerdict.Set(0)
	}
}

func (m *Instrumentation) recovery(action string) {
	if m == nil {
		return
	}
	m.healthRecoveries.WithLabelValues(action).Inc()
}

func (m *Instrumentation) setProbeValue(probe string, v float64) {
	if m == nil {
		return
	}
	m.dbProbeValues.WithLabelValues(probe).Set(v)
}
