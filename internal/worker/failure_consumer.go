package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"recipebox/backend/internal/assembly"
	"recipebox/backend/internal/config"
	"recipebox/backend/internal/middleware"
)

type FailureConsumer struct {
	reconciler Reconciler
	dead       DeadLetters
}

func NewFailureConsumer(r Reconciler, dead DeadLetters) *FailureConsumer {
	return &FailureConsumer{reconciler: r, dead: dead}
}

func (h *FailureConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	ctx := middleware.WithCorrelationID(context.Background(), uuid.New().String())

	var ev assembly.FailureEvent
	if err := json.Unmarshal(m.Body, &ev); err != nil {
		slog.ErrorContext(ctx, "poison pill: invalid failure event", "error", err)
		return nil
	}
	if _, err := ev.RecipeID(); errors.Is(err, assembly.ErrUnknownEventShape) {
		slog.ErrorContext(ctx, "poison pill: failure event names no recipe")
		return nil
	}

	if err := h.reconciler.Reconcile(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "reconciliation failed, requeueing", "attempts", m.Attempts, "error", err)
		return err
	}
	return nil
}

func (h *FailureConsumer) LogFailedMessage(m *nsq.Message) {
	ctx := context.Background()
	var ev assembly.FailureEvent
	if err := json.Unmarshal(m.Body, &ev); err != nil {
		return
	}
	recipeID, _ := ev.RecipeID()
	ctx = middleware.WithRecipeID(ctx, recipeID)
	slog.ErrorContext(ctx, "reconciliation attempts exhausted", "attempts", m.Attempts)
	deadLetter(ctx, h.dead, config.TopicRecipeFailed, recipeID, m, "reconciliation attempts exhausted")
}
