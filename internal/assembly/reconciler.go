package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"recipebox/backend/features/recipe"
	"recipebox/backend/internal/adapter/push"
	"recipebox/backend/internal/ingredient"
	"recipebox/backend/internal/metrics"
	"recipebox/backend/internal/middleware"
)

type Reconciler struct {
	store    RecipeStore
	notifier Notifier
	messages Messages
}

func NewReconciler(store RecipeStore, notifier Notifier, messages Messages) *Reconciler {
	return &Reconciler{store: store, notifier: notifier, messages: messages}
}

// Reconcile settles a failed batch: the owner is told once, the channel is
// released, and the recipe becomes complete with parsing marked failed.
func (r *Reconciler) Reconcile(ctx context.Context, ev FailureEvent) error {
	recipeID, err := ev.RecipeID()
	if err != nil {
		return fmt.Errorf("%w: %w", ingredient.ErrStoreInconsistency, err)
	}
	ctx = middleware.WithRecipeID(ctx, recipeID)

	channel, err := r.store.GetNotificationChannel(ctx, recipeID)
	if errors.Is(err, recipe.ErrNotFound) {
		return fmt.Errorf("%w: recipe %s missing at reconciliation", ingredient.ErrStoreInconsistency, recipeID)
	}
	if err != nil {
		return fmt.Errorf("load notification channel: %w", err)
	}

	if channel != nil {
		notify(ctx, r.notifier, *channel, "failed", push.Message{
			Title: r.messages.FailedTitle,
			Body:  r.messages.FailedBody,
			Data:  map[string]string{"recipeId": recipeID, "status": "failed"},
		})
	}

	if err := r.store.MarkFailed(ctx, recipeID); err != nil {
		if errors.Is(err, recipe.ErrNotFound) {
			return fmt.Errorf("%w: recipe %s vanished during reconciliation", ingredient.ErrStoreInconsistency, recipeID)
		}
		return fmt.Errorf("mark recipe failed: %w", err)
	}

	metrics.Recipes.WithLabelValues("failed").Inc()
	slog.InfoContext(ctx, "recipe reconciled as failed", "in_flight", len(ev.WorkItems), "outcomes", len(ev.Outcomes))
	return nil
}
