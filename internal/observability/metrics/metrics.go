package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking and
// reconciliation flows.
type BookingMetrics struct {
	checkoutTotal      *prometheus.CounterVec
	confirmationsTotal *prometheus.CounterVec
	reschedulesTotal   *prometheus.CounterVec
	holdLatency        prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		checkoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courseloop",
			Subsystem: "booking",
			Name:      "checkout_total",
			Help:      "Total checkout attempts by outcome",
		}, []string{"outcome"}),
		confirmationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courseloop",
			Subsystem: "booking",
			Name:      "confirmations_total",
			Help:      "Total payment confirmations by outcome",
		}, []string{"outcome"}),
		reschedulesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "courseloop",
			Subsystem: "booking",
			Name:      "reschedules_total",
			Help:      "Total reschedule and cancel attempts by outcome",
		}, []string{"operation", "outcome"}),
		holdLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "courseloop",
			Subsystem: "booking",
			Name:      "hold_latency_seconds",
			Help:      "Latency of the hold-then-intent checkout transaction",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.checkoutTotal, m.confirmationsTotal, m.reschedulesTotal, m.holdLatency)
	return m
}

func (m *BookingMetrics) ObserveCheckout(outcome string) {
	if m == nil {
		return
	}
	m.checkoutTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveConfirmation(outcome string) {
	if m == nil {
		return
	}
	m.confirmationsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveReschedule(operation, outcome string) {
	if m == nil {
		return
	}
	m.reschedulesTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *BookingMetrics) ObserveHoldLatency(seconds float64) {
	if m == nil {
		return
	}
	m.holdLatency.Observe(seconds)
}
