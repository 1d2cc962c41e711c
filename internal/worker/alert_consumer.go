package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"recipebox/backend/internal/adapter/push"
	"recipebox/backend/internal/metrics"
	"recipebox/backend/internal/middleware"
	"recipebox/backend/internal/workflow"
)

// AlertConsumer forwards operator alerts to the operator's push channel.
// Delivery is best effort; the message is always finished.
type AlertConsumer struct {
	notifier Notifier
	channel  string
}

func NewAlertConsumer(n Notifier, channel string) *AlertConsumer {
	return &AlertConsumer{notifier: n, channel: channel}
}

func (h *AlertConsumer) HandleMessage(m *nsq.Message) error {
	var a workflow.Alert
	if err := json.Unmarshal(m.Body, &a); err != nil {
		slog.Error("poison pill: invalid operator alert", "error", err)
		return nil
	}
	ctx := middleware.WithRecipeID(context.Background(), a.RecipeID)

	slog.WarnContext(ctx, "operator alert", "kind", a.Kind, "message", a.Message, "at", a.At)
	if h.channel == "" {
		return nil
	}

	err := h.notifier.Publish(ctx, h.channel, push.Message{
		Title: "recipebox: " + a.Kind,
		Body:  fmt.Sprintf("recipe %s: %s", a.RecipeID, a.Message),
		Data:  map[string]string{"kind": a.Kind, "recipeId": a.RecipeID},
	})
	metrics.Notifications.WithLabelValues("operator", metrics.Result(err)).Inc()
	if err != nil {
		slog.WarnContext(ctx, "failed to forward operator alert", "error", err)
	}
	return nil
}
