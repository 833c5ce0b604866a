package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulerMetrics exposes counters/histograms for the scheduling engine.
type SchedulerMetrics struct {
	eventsTotal           *prometheus.CounterVec
	reoptimizationsTotal  *prometheus.CounterVec
	deferredTotal         prometheus.Counter
	optimizationLatency   prometheus.Histogram
	scheduleCost          *prometheus.GaugeVec
	slaCompliance         *prometheus.GaugeVec
	simulationLatency     prometheus.Histogram
	predictionFallbacks   *prometheus.CounterVec
	queueMessagesTotal    *prometheus.CounterVec
	activeProcessorsGauge prometheus.Gauge
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Scheduler events applied, by type and outcome",
		}, []string{"event_type", "outcome"}),
		reoptimizationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "engine",
			Name:      "reoptimizations_total",
			Help:      "Optimizer invocations, by trigger and result",
		}, []string{"trigger", "result"}),
		deferredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "engine",
			Name:      "deferred_reoptimizations_total",
			Help:      "Re-optimizations postponed by the hourly budget",
		}),
		optimizationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scheduler",
			Subsystem: "optimizer",
			Name:      "latency_seconds",
			Help:      "Wall time of one optimization pass",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
		}),
		scheduleCost: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scheduler",
			Subsystem: "optimizer",
			Name:      "schedule_cost",
			Help:      "Total weighted cost of the last committed schedule",
		}, []string{"doctor_id"}),
		slaCompliance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scheduler",
			Subsystem: "optimizer",
			Name:      "emergency_sla_compliance",
			Help:      "Emergency SLA compliance ratio of the last committed schedule",
		}, []string{"doctor_id"}),
		simulationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scheduler",
			Subsystem: "simulation",
			Name:      "latency_seconds",
			Help:      "Wall time of one Monte Carlo risk assessment",
			Buckets:   prometheus.DefBuckets,
		}),
		predictionFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "prediction",
			Name:      "fallbacks_total",
			Help:      "Predictions that fell back to priors, by provider and reason",
		}, []string{"provider", "reason"}),
		queueMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Queue messages handled, by outcome",
		}, []string{"outcome"}),
		activeProcessorsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scheduler",
			Subsystem: "engine",
			Name:      "active_processors",
			Help:      "Doctor-day processors currently resident",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.eventsTotal,
		m.reoptimizationsTotal,
		m.deferredTotal,
		m.optimizationLatency,
		m.scheduleCost,
		m.slaCompliance,
		m.simulationLatency,
		m.predictionFallbacks,
		m.queueMessagesTotal,
		m.activeProcessorsGauge,
	)
	return m
}

func (m *SchedulerMetrics) ObserveEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *SchedulerMetrics) ObserveReoptimization(trigger, result string, seconds float64) {
	if m == nil {
		return
	}
	m.reoptimizationsTotal.WithLabelValues(trigger, result).Inc()
	m.optimizationLatency.Observe(seconds)
}

func (m *SchedulerMetrics) ObserveDeferred() {
	if m == nil {
		return
	}
	m.deferredTotal.Inc()
}

// SetScheduleQuality records the committed schedule's score for a doctor.
func (m *SchedulerMetrics) SetScheduleQuality(doctorID string, cost, slaCompliance float64) {
	if m == nil {
		return
	}
	m.scheduleCost.WithLabelValues(doctorID).Set(cost)
	m.slaCompliance.WithLabelValues(doctorID).Set(slaCompliance)
}

// ForgetDoctor drops the per-doctor gauges once their day is closed.
func (m *SchedulerMetrics) ForgetDoctor(doctorID string) {
	if m == nil {
		return
	}
	m.scheduleCost.DeleteLabelValues(doctorID)
	m.slaCompliance.DeleteLabelValues(doctorID)
}

func (m *SchedulerMetrics) ObserveSimulation(seconds float64) {
	if m == nil {
		return
	}
	m.simulationLatency.Observe(seconds)
}

func (m *SchedulerMetrics) ObservePredictionFallback(provider, reason string) {
	if m == nil {
		return
	}
	m.predictionFallbacks.WithLabelValues(provider, reason).Inc()
}

func (m *SchedulerMetrics) ObserveQueueMessage(outcome string) {
	if m == nil {
		return
	}
	m.queueMessagesTotal.WithLabelValues(outcome).Inc()
}

func (m *SchedulerMetrics) SetActiveProcessors(n int) {
	if m == nil {
		return
	}
	m.activeProcessorsGauge.Set(float64(n))
}
