package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 指标管理器 for the emergency engine.
type Metrics struct {
	triggersTotal     *prometheus.CounterVec
	duplicateTriggers prometheus.Counter
	resolvesTotal     prometheus.Counter
	activeEmergencies prometheus.Gauge

	dispatchResults        *prometheus.CounterVec
	dispatchSystemFailures prometheus.Counter

	samplesAccepted prometheus.Counter
	samplesRejected *prometheus.CounterVec

	watchdogRestarts prometheus.Counter
	watchdogDisarms  prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		triggersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safevoice_triggers_total",
				Help: "Emergency triggers by source (manual|voice)",
			},
			[]string{"source"},
		),
		duplicateTriggers: promauto.NewCounter(prometheus.CounterOpts{
			Name: "safevoice_duplicate_triggers_total",
			Help: "Triggers absorbed by the idempotency check",
		}),
		resolvesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "safevoice_resolves_total",
			Help: "Emergencies marked SAFE",
		}),
		activeEmergencies: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "safevoice_active_emergencies",
			Help: "Currently ACTIVE emergency records",
		}),
		dispatchResults: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safevoice_dispatch_results_total",
				Help: "Per-channel delivery outcomes",
			},
			[]string{"channel", "status"},
		),
		dispatchSystemFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "safevoice_dispatch_system_failures_total",
			Help: "Broadcasts where the backend was wholly unreachable",
		}),
		samplesAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "safevoice_location_samples_accepted_total",
			Help: "Location samples appended to the store",
		}),
		samplesRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safevoice_location_samples_rejected_total",
				Help: "Rejected samples by reason (stale|closed)",
			},
			[]string{"reason"},
		),
		watchdogRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "safevoice_watchdog_restarts_total",
			Help: "Voice watchdog listening-session restarts",
		}),
		watchdogDisarms: promauto.NewCounter(prometheus.CounterOpts{
			Name: "safevoice_watchdog_auto_disarms_total",
			Help: "Auto-disarms caused by permanent sensor errors",
		}),
	}
}

func (m *Metrics) Trigger(source string)   { m.triggersTotal.WithLabelValues(source).Inc() }
func (m *Metrics) DuplicateTrigger()       { m.duplicateTriggers.Inc() }
func (m *Metrics) Resolve()                { m.resolvesTotal.Inc() }
func (m *Metrics) SetActive(n int)         { m.activeEmergencies.Set(float64(n)) }
func (m *Metrics) IncActive()              { m.activeEmergencies.Inc() }
func (m *Metrics) DecActive()              { m.activeEmergencies.Dec() }
func (m *Metrics) DispatchSystemFailure()  { m.dispatchSystemFailures.Inc() }
func (m *Metrics) SampleAccepted()         { m.samplesAccepted.Inc() }
func (m *Metrics) WatchdogRestart()        { m.watchdogRestarts.Inc() }
func (m *Metrics) WatchdogAutoDisarm()     { m.watchdogDisarms.Inc() }

func (m *Metrics) DispatchResult(channel, status string) {
	m.dispatchResults.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) SampleRejected(reason string) {
	m.samplesRejected.WithLabelValues(reason).Inc()
}
