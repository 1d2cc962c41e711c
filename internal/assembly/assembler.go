package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"recipebox/backend/features/recipe"
	"recipebox/backend/internal/adapter/push"
	"recipebox/backend/internal/ingredient"
	"recipebox/backend/internal/metrics"
	"recipebox/backend/internal/middleware"
)

type RecipeStore interface {
	Get(ctx context.Context, id string) (*recipe.Recipe, error)
	Put(ctx context.Context, rec *recipe.Recipe) error
	GetNotificationChannel(ctx context.Context, id string) (*string, error)
	MarkFailed(ctx context.Context, id string) error
}

type Notifier interface {
	Publish(ctx context.Context, channel string, msg push.Message) error
	DeleteChannel(ctx context.Context, channel string) error
}

// Messages holds the user-facing notification texts.
type Messages struct {
	ReadyTitle  string
	ReadyBody   string
	FailedTitle string
	FailedBody  string
}

type Assembler struct {
	store    RecipeStore
	notifier Notifier
	messages Messages
}

func NewAssembler(store RecipeStore, notifier Notifier, messages Messages) *Assembler {
	return &Assembler{store: store, notifier: notifier, messages: messages}
}

// Assemble merges the complete batch of line outcomes into the recipe and marks
// it complete with a single write.
func (a *Assembler) Assemble(ctx context.Context, recipeID string, outcomes []ingredient.BatchOutcome) error {
	ctx = middleware.WithRecipeID(ctx, recipeID)

	rec, err := a.store.Get(ctx, recipeID)
	if errors.Is(err, recipe.ErrNotFound) {
		return fmt.Errorf("%w: recipe %s missing at assembly", ingredient.ErrStoreInconsistency, recipeID)
	}
	if err != nil {
		return fmt.Errorf("load recipe: %w", err)
	}
	if rec.IsComplete {
		slog.InfoContext(ctx, "recipe already complete, skipping assembly")
		return nil
	}

	apply(ctx, rec, outcomes)

	succeeded := true
	rec.IsComplete = true
	rec.HasParsingSucceeded = &succeeded
	channel := rec.NotificationChannel
	rec.NotificationChannel = nil

	if err := a.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("store assembled recipe: %w", err)
	}
	metrics.Recipes.WithLabelValues("complete").Inc()
	slog.InfoContext(ctx, "recipe assembled", "outcomes", len(outcomes))

	if channel != nil {
		a.notify(ctx, *channel, "ready", push.Message{
			Title: a.messages.ReadyTitle,
			Body:  a.messages.ReadyBody,
			Data:  map[string]string{"recipeId": recipeID, "status": "ready"},
		})
	}
	return nil
}

// apply splices outcomes into the recipe's ingredient groups. The first parsed
// result takes over the original line's id and position; the rest follow it
// with fresh ids. An outcome with no results removes the line.
func apply(ctx context.Context, rec *recipe.Recipe, outcomes []ingredient.BatchOutcome) {
	if rec.IngredientStatuses == nil {
		rec.IngredientStatuses = make(map[string]ingredient.Status)
	}
	groups := rec.Content.IngredientGroups

	for _, out := range outcomes {
		id := out.OriginalWorkItem.IngredientID
		g, i, ok := rec.Content.Locate(id)
		if !ok {
			slog.WarnContext(ctx, "outcome for unknown ingredient, skipping", "ingredient_id", id)
			continue
		}

		replacement := make([]recipe.Ingredient, len(out.Results))
		for k, p := range out.Results {
			ing := recipe.Ingredient{
				ID:               id,
				Name:             p.Name,
				Unit:             p.Unit,
				Quantity:         p.Quantity,
				PreparationNotes: p.PreparationNotes,
				OriginalText:     p.OriginalText,
				IsProcessed:      p.Resolved,
			}
			if k > 0 {
				ing.ID = uuid.New().String()
			}
			replacement[k] = ing
			rec.IngredientStatuses[ing.ID] = out.Status
		}
		if len(replacement) == 0 {
			delete(rec.IngredientStatuses, id)
		}

		groups[g].Ingredients = splice(groups[g].Ingredients, i, replacement)
	}
}

// splice replaces s[i] with repl in a fresh slice.
func splice(s []recipe.Ingredient, i int, repl []recipe.Ingredient) []recipe.Ingredient {
	out := make([]recipe.Ingredient, 0, len(s)-1+len(repl))
	out = append(out, s[:i]...)
	out = append(out, repl...)
	out = append(out, s[i+1:]...)
	return out
}

func (a *Assembler) notify(ctx context.Context, channel, kind string, msg push.Message) {
	notify(ctx, a.notifier, channel, kind, msg)
}

// notify publishes then releases the channel; neither failure is fatal.
func notify(ctx context.Context, n Notifier, channel, kind string, msg push.Message) {
	err := n.Publish(ctx, channel, msg)
	metrics.Notifications.WithLabelValues(kind, metrics.Result(err)).Inc()
	if err != nil {
		slog.WarnContext(ctx, "failed to send notification", "kind", kind, "error", err)
	}
	if err := n.DeleteChannel(ctx, channel); err != nil {
		slog.WarnContext(ctx, "failed to release notification channel", "error", err)
	}
}
