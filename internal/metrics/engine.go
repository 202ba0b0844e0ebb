// Package metrics exposes Prometheus instruments for the session engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "irrigation_sessions_active",
		Help: "Number of live irrigation sessions",
	})

	sessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "irrigation_sessions_started_total",
		Help: "Sessions started by device class",
	}, []string{"device_class"})

	sessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "irrigation_sessions_finished_total",
		Help: "Sessions that left the store by outcome",
	}, []string{"outcome"}) // outcome=completed|cancelled|already_applied|rollover

	inputErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "irrigation_input_errors_total",
		Help: "Operator inputs rejected and re-prompted",
	}, []string{"kind"}) // kind=format|ordering

	timerFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "irrigation_timer_fires_total",
		Help: "Timer fires by class and whether they were delivered",
	}, []string{"class", "result"}) // result=delivered|stale

	persistAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "irrigation_persist_total",
		Help: "Final volume writes by outcome",
	}, []string{"outcome"}) // outcome=ok|conflict|unavailable

	appliedVolume = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "irrigation_applied_volume_m3",
		Help:    "Volume persisted per completed session",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	dispatchPlots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "irrigation_dispatch_plots_total",
		Help: "Plots handled by the daily dispatcher by outcome",
	}, []string{"outcome"}) // outcome=started|skipped|failed

	inboundDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "irrigation_inbound_duplicates_total",
		Help: "Inbound operator messages dropped as redeliveries",
	})
)

func SetActiveSessions(n int)              { sessionsActive.Set(float64(n)) }
func IncSessionStarted(deviceClass string) { sessionsStarted.WithLabelValues(deviceClass).Inc() }
func IncSessionFinished(outcome string)    { sessionsFinished.WithLabelValues(outcome).Inc() }
func IncInputError(kind string)            { inputErrors.WithLabelValues(kind).Inc() }
func IncTimerFire(class, result string)    { timerFires.WithLabelValues(class, result).Inc() }
func IncPersist(outcome string)            { persistAttempts.WithLabelValues(outcome).Inc() }
func ObserveAppliedVolume(m3 float64)      { appliedVolume.Observe(m3) }
func IncDispatchPlot(outcome string)       { dispatchPlots.WithLabelValues(outcome).Inc() }
func IncInboundDuplicate()                 { inboundDuplicates.Inc() }
