// Package metrics exposes the Prometheus counters/gauges/histograms the
// runtime supervisor (internal/supervisor) maintains for operator
// visibility into session activity, queue depth, and delivery outcomes.
//
// Grounded on foxcpp-maddy's internal/endpoint/smtp/metrics.go and
// internal/target/queue/metrics.go: package-level prometheus.*Vec values
// registered once in init(), named by {namespace, subsystem, name} rather
// than through any app-wide registry indirection. spec.md's Non-goals
// scope out protocol features, not operator-visible instrumentation
// (SPEC_FULL.md §6), so this is carried regardless.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// SessionsAccepted counts TCP connections accepted per listener kind
	// (relay, submission, submissions).
	SessionsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mtaserv",
			Subsystem: "smtp",
			Name:      "sessions_accepted_total",
			Help:      "SMTP connections accepted, by listener kind",
		},
		[]string{"listener"},
	)
	// SessionsRejected counts connections refused before a line was read,
	// e.g. the connection-cap 554 response (spec.md §5).
	SessionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mtaserv",
			Subsystem: "smtp",
			Name:      "sessions_rejected_total",
			Help:      "SMTP connections rejected before the session started, by reason",
		},
		[]string{"reason"},
	)
	// CommandErrors is the error-reply counter, labelled by listener kind
	// (spec.md §4.3 error budget). It is registered with the other
	// collectors; no code path in this module increments it.
	CommandErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mtaserv",
			Subsystem: "smtp",
			Name:      "command_errors_total",
			Help:      "Error replies written to clients, by listener kind",
		},
		[]string{"listener"},
	)
	// AuthFailures is the failed-or-cancelled SASL attempt counter
	// (spec.md §4.5). It is registered with the other collectors; no code
	// path in this module increments it.
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mtaserv",
			Subsystem: "smtp",
			Name:      "auth_failures_total",
			Help:      "Failed or cancelled SASL authentication attempts",
		},
		[]string{"listener"},
	)

	// QueueDepth gauges the number of messages currently sitting in each
	// named queue directory (spec.md §4.7).
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mtaserv",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Messages currently present in a queue directory",
		},
		[]string{"queue"},
	)

	// DeliveryAttempts counts one delivery attempt per recipient per
	// delivery pass (spec.md §4.12), by transport and outcome.
	DeliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mtaserv",
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Delivery attempts, by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)
	// DeliveryDuration observes how long one delivery-stage ProcessOne call
	// (covering every transport it dispatched to) took.
	DeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mtaserv",
			Subsystem: "delivery",
			Name:      "duration_seconds",
			Help:      "Wall-clock time spent processing one deliver-queue message",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsAccepted,
		SessionsRejected,
		CommandErrors,
		AuthFailures,
		QueueDepth,
		DeliveryAttempts,
		DeliveryDuration,
	)
}
