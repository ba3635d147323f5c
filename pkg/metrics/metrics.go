// Package metrics exposes the runtime's Prometheus collectors on the default
// registry, served at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiso",
		Name:      "messages_processed_total",
		Help:      "Messages a worker finished processing, by outcome.",
	}, []string{"outcome"})

	plansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiso",
		Name:      "plans_total",
		Help:      "Plans reaching a terminal status.",
	}, []string{"status"})

	llmCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiso",
		Name:      "llm_calls_total",
		Help:      "LLM calls made, by role and status.",
	}, []string{"role", "status"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kiso",
		Name:      "task_duration_seconds",
		Help:      "Wall time per task, by type and status.",
		Buckets:   []float64{.1, .5, 1, 5, 15, 60, 180, 600},
	}, []string{"type", "status"})

	workersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kiso",
		Name:      "workers_active",
		Help:      "Session workers currently running.",
	})

	webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiso",
		Name:      "webhook_deliveries_total",
		Help:      "Webhook delivery outcomes.",
	}, []string{"status"})
)

// MessageProcessed records one finished message cycle.
func MessageProcessed(outcome string) { messagesProcessed.WithLabelValues(outcome).Inc() }

// PlanFinished records a plan reaching a terminal status.
func PlanFinished(status string) { plansTotal.WithLabelValues(status).Inc() }

// LLMCall records one gateway call.
func LLMCall(role, status string) { llmCallsTotal.WithLabelValues(role, status).Inc() }

// TaskFinished records a task's duration and terminal status.
func TaskFinished(taskType, status string, d time.Duration) {
	taskDuration.WithLabelValues(taskType, status).Observe(d.Seconds())
}

// WorkerStarted and WorkerStopped track the active worker gauge.
func WorkerStarted() { workersActive.Inc() }
func WorkerStopped() { workersActive.Dec() }

// WebhookDelivered records one delivery outcome.
func WebhookDelivered(status string) { webhookDeliveries.WithLabelValues(status).Inc() }

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
