package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"recipebox/backend/internal/config"
	"recipebox/backend/internal/middleware"
	"recipebox/backend/internal/resolution"
)

// CompletionConsumer feeds verified provider notifications to the outcome
// classifier. The classifier's lookup-and-delete makes redelivery safe.
type CompletionConsumer struct {
	classifier Classifier
	dead       DeadLetters
	timeout    time.Duration
}

func NewCompletionConsumer(c Classifier, dead DeadLetters) *CompletionConsumer {
	return &CompletionConsumer{classifier: c, dead: dead, timeout: 60 * time.Second}
}

func (h *CompletionConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	n, ctx, err := decodeNotification(m.Body)
	if err != nil {
		slog.ErrorContext(ctx, "poison pill: invalid completion message", "error", err)
		return nil
	}
	if n.JobID == "" {
		slog.ErrorContext(ctx, "completion message without job id, dropping", "type", n.Type)
		return nil
	}

	hctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.classifier.Handle(hctx, n); err != nil {
		if errors.Is(err, resolution.ErrUnknownNotification) {
			slog.ErrorContext(ctx, "poison pill: unknown notification type", "job_id", n.JobID, "type", n.Type)
			return nil
		}
		slog.WarnContext(ctx, "completion handling failed, requeueing", "job_id", n.JobID, "attempts", m.Attempts, "error", err)
		return err
	}
	return nil
}

// LogFailedMessage keeps the notification for a manual retry. The correlation
// record stays in place until it expires, so a retry can still resume the branch.
func (h *CompletionConsumer) LogFailedMessage(m *nsq.Message) {
	n, ctx, err := decodeNotification(m.Body)
	if err != nil {
		return
	}
	slog.ErrorContext(ctx, "completion attempts exhausted", "job_id", n.JobID, "attempts", m.Attempts)
	deadLetter(ctx, h.dead, config.TopicIngredientCompletion, "", m, "completion attempts exhausted")
}

func decodeNotification(body []byte) (resolution.Notification, context.Context, error) {
	var n resolution.Notification
	err := json.Unmarshal(body, &n)

	correlationID := n.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	return n, middleware.WithCorrelationID(context.Background(), correlationID), err
}
