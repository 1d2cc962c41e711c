package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"recipebox/backend/features/job"
	"recipebox/backend/internal/config"
	"recipebox/backend/internal/ingredient"
	"recipebox/backend/internal/middleware"
	"recipebox/backend/internal/resolution"
	"recipebox/backend/internal/workflow"
)

// DispatchConsumer submits one inference job per dispatch message. Returning
// an error requeues the message with NSQ backoff.
type DispatchConsumer struct {
	dispatcher Dispatcher
	driver     Driver
	dead       DeadLetters
	timeout    time.Duration
}

func NewDispatchConsumer(d Dispatcher, drv Driver, dead DeadLetters) *DispatchConsumer {
	return &DispatchConsumer{dispatcher: d, driver: drv, dead: dead, timeout: 30 * time.Second}
}

func (h *DispatchConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	msg, ctx, err := decodeDispatch(m.Body)
	if err != nil {
		slog.ErrorContext(ctx, "poison pill: invalid dispatch message", "error", err)
		return nil
	}
	if msg.Handle == "" || msg.Item.RecipeID == "" {
		slog.ErrorContext(ctx, "dispatch message missing handle or recipe, dropping")
		return nil
	}

	dctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	_, err = h.dispatcher.Dispatch(dctx, msg.Handle, msg.Item)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ingredient.ErrInputTooLong):
		slog.WarnContext(ctx, "ingredient line too long, keeping original text", "ingredient_id", msg.Item.IngredientID)
		out := ingredient.Fallback(msg.Item, ingredient.StatusLineTooLong)
		return h.driver.Resume(ctx, msg.Handle, resolution.Resumption{Outcome: &out})
	case errors.Is(err, ingredient.ErrOutOfCredits):
		slog.ErrorContext(ctx, "inference provider out of credits, failing batch", "ingredient_id", msg.Item.IngredientID)
		if ferr := h.driver.Fail(ctx, msg.Item.RecipeID, err); ferr != nil && !errors.Is(ferr, workflow.ErrNotRunning) {
			return ferr
		}
		return nil
	default:
		slog.WarnContext(ctx, "dispatch failed, requeueing", "ingredient_id", msg.Item.IngredientID, "attempts", m.Attempts, "error", err)
		return err
	}
}

// LogFailedMessage is called by go-nsq once MaxAttempts is exceeded. The
// branch resolves to an unresolved echo so the batch can still converge, and
// the message is kept for inspection.
func (h *DispatchConsumer) LogFailedMessage(m *nsq.Message) {
	msg, ctx, err := decodeDispatch(m.Body)
	if err != nil {
		return
	}
	slog.ErrorContext(ctx, "dispatch attempts exhausted", "ingredient_id", msg.Item.IngredientID, "attempts", m.Attempts)

	out := ingredient.Fallback(msg.Item, ingredient.StatusProviderError)
	if err := h.driver.Resume(ctx, msg.Handle, resolution.Resumption{Outcome: &out}); err != nil {
		slog.ErrorContext(ctx, "failed to resolve exhausted branch", "error", err)
	}
	deadLetter(ctx, h.dead, config.TopicIngredientDispatch, msg.Item.RecipeID, m, "dispatch attempts exhausted")
}

func decodeDispatch(body []byte) (workflow.DispatchMessage, context.Context, error) {
	var msg workflow.DispatchMessage
	err := json.Unmarshal(body, &msg)

	correlationID := msg.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)
	if msg.Item.RecipeID != "" {
		ctx = middleware.WithRecipeID(ctx, msg.Item.RecipeID)
	}
	return msg, ctx, err
}

func deadLetter(ctx context.Context, dead DeadLetters, topic, recipeID string, m *nsq.Message, reason string) {
	if dead == nil {
		return
	}
	j := &job.Job{
		Topic:    topic,
		RecipeID: recipeID,
		Payload:  m.Body,
		Error:    reason,
		Retries:  int(m.Attempts),
	}
	if err := dead.Save(ctx, j); err != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "topic", topic, "error", err)
		return
	}
	slog.InfoContext(ctx, "saved failed job for retry", "id", j.ID, "topic", topic)
}
