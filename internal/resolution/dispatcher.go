package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"recipebox/backend/internal/correlation"
	"recipebox/backend/internal/ingredient"
	"recipebox/backend/internal/metrics"
)

// Provider is an asynchronous inference service. Submit returns as soon as the
// provider has accepted the job.
type Provider interface {
	Name() string
	Submit(ctx context.Context, prompt ingredient.Prompt) (string, error)
	Output(ctx context.Context, jobID string) (string, error)
}

// Launcher is implemented by providers whose jobs must not start producing
// notifications before the correlation record is stored. Cancel drops a
// submitted job that will never be launched.
type Launcher interface {
	Launch(ctx context.Context, jobID string) error
	Cancel(jobID string)
}

type Dispatcher struct {
	provider Provider
	store    correlation.Store
	ttl      time.Duration
	now      func() time.Time
}

func NewDispatcher(provider Provider, store correlation.Store, ttl time.Duration) *Dispatcher {
	return &Dispatcher{provider: provider, store: store, ttl: ttl, now: time.Now}
}

// Dispatch submits one inference job for item and records which branch awaits it.
// Provider rejections are returned unchanged so callers can classify them.
func (d *Dispatcher) Dispatch(ctx context.Context, handle string, item ingredient.WorkItem) (string, error) {
	prompt := ingredient.PromptFor(item)

	jobID, err := d.provider.Submit(ctx, prompt)
	if err != nil {
		metrics.DispatchErrors.WithLabelValues(errorKind(err)).Inc()
		return "", fmt.Errorf("submit ingredient %s: %w", item.IngredientID, err)
	}

	expires := item.RecipeExpiry
	if expires.IsZero() {
		expires = d.now().Add(d.ttl)
	}
	rec := correlation.Record{
		JobID:        jobID,
		ResumeHandle: handle,
		WorkItem:     item,
		AttemptCount: item.AttemptCount,
		ExpiresAt:    expires,
	}
	if err := d.store.Put(ctx, rec); err != nil {
		if l, ok := d.provider.(Launcher); ok {
			l.Cancel(jobID)
		}
		slog.ErrorContext(ctx, "correlation record not persisted, job orphaned", "job_id", jobID, "ingredient_id", item.IngredientID, "error", err)
		return "", fmt.Errorf("%w: job %s: %w", ingredient.ErrStoreInconsistency, jobID, err)
	}

	if l, ok := d.provider.(Launcher); ok {
		if err := l.Launch(ctx, jobID); err != nil {
			if derr := d.store.Delete(ctx, jobID); derr != nil {
				slog.WarnContext(ctx, "failed to drop correlation record of unlaunched job", "job_id", jobID, "error", derr)
			}
			return "", fmt.Errorf("launch job %s: %w", jobID, err)
		}
	}

	metrics.JobsDispatched.WithLabelValues(d.provider.Name()).Inc()
	slog.InfoContext(ctx, "ingredient dispatched",
		"job_id", jobID,
		"ingredient_id", item.IngredientID,
		"language", prompt.Language,
		"attempt", item.AttemptCount,
	)
	return jobID, nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ingredient.ErrInputTooLong):
		return "input_too_long"
	case errors.Is(err, ingredient.ErrOutOfCredits):
		return "out_of_credits"
	case errors.Is(err, ingredient.ErrProviderTransient):
		return "transient"
	default:
		return "other"
	}
}
