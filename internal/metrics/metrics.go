// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_chat_requests_total",
		Help: "Inbound chat messages by outcome",
	}, []string{"outcome"}) // outcome=challenge|stream|invalid|error

	paymentConfirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_payment_confirmations_total",
		Help: "Payment confirmation attempts by outcome",
	}, []string{"outcome"}) // outcome=confirmed|duplicate|rejected|invalid|error

	streamEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_stream_events_total",
		Help: "Stream events relayed to callers by kind",
	}, []string{"kind"})

	sessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paygate_sessions_evicted_total",
		Help: "Sessions removed by the reaper",
	})

	taskFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_scheduler_task_fires_total",
		Help: "Recurring task invocations by task and outcome",
	}, []string{"task", "outcome"}) // outcome=success|failure

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paygate_active_streams",
		Help: "Event streams currently open",
	})
)

// RecordChatRequest counts an inbound chat message.
func RecordChatRequest(outcome string) {
	chatRequests.WithLabelValues(outcome).Inc()
}

// RecordPaymentConfirmation counts a confirmation attempt.
func RecordPaymentConfirmation(outcome string) {
	paymentConfirmations.WithLabelValues(outcome).Inc()
}

// RecordStreamEvent counts a relayed stream event.
func RecordStreamEvent(kind string) {
	streamEvents.WithLabelValues(kind).Inc()
}

// RecordSessionsEvicted adds n evicted sessions.
func RecordSessionsEvicted(n int) {
	if n > 0 {
		sessionsEvicted.Add(float64(n))
	}
}

// RecordTaskFire counts a scheduler invocation.
func RecordTaskFire(task string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	taskFires.WithLabelValues(task, outcome).Inc()
}

// StreamOpened increments the open stream gauge.
func StreamOpened() { activeStreams.Inc() }

// StreamClosed decrements the open stream gauge.
func StreamClosed() { activeStreams.Dec() }
