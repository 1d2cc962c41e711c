package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"recipebox/backend/internal/adapter/openai"
	"recipebox/backend/internal/config"
	"recipebox/backend/internal/correlation"
	"recipebox/backend/internal/metrics"
	"recipebox/backend/internal/middleware"
	"recipebox/backend/internal/resolution"
)

const maxBodyBytes = 1 << 20

var eventTypes = map[string]resolution.NotificationType{
	"response.completed": resolution.NotificationCompleted,
	"response.failed":    resolution.NotificationFailed,
	"response.cancelled": resolution.NotificationCancelled,
}

type Verifier interface {
	Unwrap(h http.Header, body []byte) (openai.Event, error)
}

type Correlations interface {
	Peek(ctx context.Context, jobID string) (correlation.Projection, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Handler struct {
	verifier     Verifier
	correlations Correlations
	pub          EventPublisher
}

func NewHandler(v Verifier, c Correlations, pub EventPublisher) *Handler {
	return &Handler{verifier: v, correlations: c, pub: pub}
}

// Inference handles POST /webhooks/inference
func (h *Handler) Inference(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(ctx, w, "BAD_REQUEST", "unable to read body", http.StatusBadRequest)
		return
	}

	ev, err := h.verifier.Unwrap(r.Header, body)
	if err != nil {
		slog.WarnContext(ctx, "rejected webhook", "error", err)
		metrics.WebhookEvents.WithLabelValues("unknown", "invalid_signature").Inc()
		h.writeError(ctx, w, "BAD_REQUEST", "invalid webhook signature", http.StatusBadRequest)
		return
	}

	typ, ok := eventTypes[ev.Type]
	if !ok || ev.Data.ID == "" {
		slog.WarnContext(ctx, "unsupported webhook event", "type", ev.Type)
		metrics.WebhookEvents.WithLabelValues(ev.Type, "unsupported").Inc()
		h.writeError(ctx, w, "BAD_REQUEST", "unsupported event type", http.StatusBadRequest)
		return
	}

	// Fast path: a job nobody waits for any more is acknowledged without queueing.
	if _, err := h.correlations.Peek(ctx, ev.Data.ID); err != nil {
		if errors.Is(err, correlation.ErrNotFound) {
			slog.InfoContext(ctx, "webhook for unknown job", "job_id", ev.Data.ID, "type", ev.Type)
			metrics.WebhookEvents.WithLabelValues(ev.Type, "ignored").Inc()
			w.WriteHeader(http.StatusOK)
			return
		}
		slog.ErrorContext(ctx, "correlation lookup failed", "job_id", ev.Data.ID, "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	payload, err := json.Marshal(resolution.Notification{
		Type:          typ,
		JobID:         ev.Data.ID,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if err := h.pub.Publish(config.TopicIngredientCompletion, payload); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue notification", "job_id", ev.Data.ID, "error", err)
		metrics.WebhookEvents.WithLabelValues(ev.Type, "error").Inc()
		// Non-2xx makes the provider redeliver.
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	metrics.WebhookEvents.WithLabelValues(ev.Type, "accepted").Inc()
	slog.InfoContext(ctx, "webhook accepted", "job_id", ev.Data.ID, "type", ev.Type)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode error response", "error", err)
	}
}
