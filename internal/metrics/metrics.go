package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsDispatched tracks inference jobs submitted per provider
	JobsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipebox_jobs_dispatched_total",
			Help: "Total number of inference jobs submitted",
		},
		[]string{"provider"},
	)

	// DispatchErrors tracks rejected submissions by error class
	DispatchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipebox_dispatch_errors_total",
			Help: "Total number of failed inference submissions",
		},
		[]string{"kind"},
	)

	// Outcomes tracks per-line outcomes by status
	Outcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipebox_outcomes_total",
			Help: "Total number of resolved ingredient lines",
		},
		[]string{"status"},
	)

	// Retries tracks re-dispatched lines
	Retries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recipebox_retries_total",
			Help: "Total number of ingredient lines re-dispatched",
		},
	)

	// WebhookEvents tracks inbound provider notifications
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipebox_webhook_events_total",
			Help: "Total number of inference provider notifications",
		},
		[]string{"type", "result"},
	)

	// DuplicateNotifications tracks notifications for jobs that were already consumed
	DuplicateNotifications = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recipebox_duplicate_notifications_total",
			Help: "Total number of notifications for unknown or consumed jobs",
		},
	)

	// Notifications tracks push deliveries
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipebox_notifications_total",
			Help: "Total number of push notifications attempted",
		},
		[]string{"kind", "result"},
	)

	// Recipes tracks recipes reaching a terminal state
	Recipes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipebox_recipes_total",
			Help: "Total number of recipes that finished ingredient resolution",
		},
		[]string{"result"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
