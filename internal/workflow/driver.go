package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"recipebox/backend/internal/assembly"
	"recipebox/backend/internal/config"
	"recipebox/backend/internal/ingredient"
	"recipebox/backend/internal/middleware"
	"recipebox/backend/internal/resolution"
)

var (
	ErrNotRunning      = errors.New("batch is not running")
	ErrRecipeExpired   = errors.New("recipe expired before resolution finished")
	ErrOperatorCancel  = errors.New("cancelled by operator")
	ErrEmptyResumption = errors.New("resumption carries neither outcome nor retry")
)

type Publisher interface {
	Publish(topic string, body []byte) error
}

type Assembler interface {
	Assemble(ctx context.Context, recipeID string, outcomes []ingredient.BatchOutcome) error
}

type Driver struct {
	repo      Repository
	pub       Publisher
	assembler Assembler
	now       func() time.Time
}

func NewDriver(repo Repository, pub Publisher, assembler Assembler) *Driver {
	return &Driver{repo: repo, pub: pub, assembler: assembler, now: time.Now}
}

// Start opens one branch per work item and fans them out. A batch with no
// items converges immediately.
func (d *Driver) Start(ctx context.Context, recipeID string, expiresAt time.Time, items []ingredient.WorkItem) error {
	ctx = middleware.WithRecipeID(ctx, recipeID)

	branches := make([]Branch, len(items))
	for i, item := range items {
		branches[i] = Branch{Handle: uuid.New().String(), Position: i, Item: item}
	}
	if err := d.repo.CreateBatch(ctx, recipeID, expiresAt, branches); err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	slog.InfoContext(ctx, "ingredient batch started", "branches", len(branches))

	if len(branches) == 0 {
		return d.converge(ctx, recipeID)
	}
	for _, b := range branches {
		if err := d.dispatch(ctx, b.Handle, b.Item); err != nil {
			if ferr := d.Fail(ctx, recipeID, err); ferr != nil && !errors.Is(ferr, ErrNotRunning) {
				slog.ErrorContext(ctx, "failed to fail batch after dispatch error", "error", ferr)
			}
			return fmt.Errorf("fan out branch %d: %w", b.Position, err)
		}
	}
	return nil
}

// Resume continues the branch suspended on handle. Unknown or already used
// handles are ignored.
func (d *Driver) Resume(ctx context.Context, handle string, r resolution.Resumption) error {
	switch {
	case r.Retry != nil:
		return d.retry(ctx, handle, *r.Retry)
	case r.Outcome != nil:
		recipeID, ok, err := d.repo.ResolveBranch(ctx, handle, *r.Outcome)
		if err != nil {
			return fmt.Errorf("resolve branch: %w", err)
		}
		if recipeID == "" {
			slog.InfoContext(ctx, "stale resume handle, ignoring outcome", "ingredient_id", r.Outcome.OriginalWorkItem.IngredientID)
			return nil
		}
		ctx = middleware.WithRecipeID(ctx, recipeID)
		if !ok {
			// Redelivery after a failed convergence still has to try again.
			slog.InfoContext(ctx, "branch already resumed, rechecking convergence", "ingredient_id", r.Outcome.OriginalWorkItem.IngredientID)
		}
		return d.converge(ctx, recipeID)
	}
	return ErrEmptyResumption
}

func (d *Driver) retry(ctx context.Context, handle string, item ingredient.WorkItem) error {
	next := uuid.New().String()
	ok, err := d.repo.RotateHandle(ctx, handle, next, item)
	if err != nil {
		return fmt.Errorf("rotate handle: %w", err)
	}
	if !ok {
		slog.InfoContext(ctx, "stale resume handle, ignoring retry", "ingredient_id", item.IngredientID)
		return nil
	}
	if err := d.dispatch(ctx, next, item); err != nil {
		if _, rerr := d.repo.RotateHandle(ctx, next, handle, item); rerr != nil {
			slog.ErrorContext(ctx, "failed to restore resume handle", "ingredient_id", item.IngredientID, "error", rerr)
		}
		return err
	}
	return nil
}

// converge hands the batch to the assembler once no branch is pending. Only
// one caller wins the transition; everyone else returns immediately.
func (d *Driver) converge(ctx context.Context, recipeID string) error {
	ok, err := d.repo.BeginAssembly(ctx, recipeID)
	if err != nil {
		return fmt.Errorf("begin assembly: %w", err)
	}
	if !ok {
		return nil
	}

	outcomes, err := d.repo.Outcomes(ctx, recipeID)
	if err != nil {
		return d.abortAssembly(ctx, recipeID, nil, err)
	}
	if err := d.assembler.Assemble(ctx, recipeID, outcomes); err != nil {
		return d.abortAssembly(ctx, recipeID, outcomes, err)
	}
	if err := d.repo.FinishBatch(ctx, recipeID, BatchCompleted); err != nil {
		slog.WarnContext(ctx, "failed to mark batch completed", "error", err)
	}
	return nil
}

func (d *Driver) abortAssembly(ctx context.Context, recipeID string, outcomes []ingredient.BatchOutcome, cause error) error {
	slog.ErrorContext(ctx, "assembly failed, failing batch", "error", cause)
	if err := d.repo.FinishBatch(ctx, recipeID, BatchFailed); err != nil {
		return fmt.Errorf("mark batch failed: %w", err)
	}
	ev := assembly.OutcomesFailed(outcomes)
	if len(outcomes) == 0 {
		ev = assembly.WorkItemsFailed([]ingredient.WorkItem{{RecipeID: recipeID}})
	}
	return d.publishFailure(ctx, ev)
}

// Fail ends a running batch, cancelling every pending branch. A batch stuck in
// assembling past its expiry is failed too. The failure event carries the
// cancelled work items, or the outcomes gathered so far when nothing was
// pending.
func (d *Driver) Fail(ctx context.Context, recipeID string, cause error) error {
	ctx = middleware.WithRecipeID(ctx, recipeID)

	cancelled, ok, err := d.repo.FailBatch(ctx, recipeID)
	if err != nil {
		return fmt.Errorf("fail batch: %w", err)
	}
	if !ok {
		return ErrNotRunning
	}
	slog.WarnContext(ctx, "ingredient batch failed", "cause", cause, "cancelled", len(cancelled))

	ev := assembly.WorkItemsFailed(cancelled)
	if len(cancelled) == 0 {
		outcomes, err := d.repo.Outcomes(ctx, recipeID)
		if err != nil || len(outcomes) == 0 {
			ev = assembly.WorkItemsFailed([]ingredient.WorkItem{{RecipeID: recipeID}})
		} else {
			ev = assembly.OutcomesFailed(outcomes)
		}
	}
	if err := d.publishFailure(ctx, ev); err != nil {
		return err
	}

	if errors.Is(cause, ingredient.ErrOutOfCredits) {
		d.alert(ctx, Alert{
			Kind:     AlertOutOfCredits,
			RecipeID: recipeID,
			Message:  cause.Error(),
			At:       d.now().UTC(),
		})
	}
	return nil
}

// FailStale fails running or assembling batches whose recipe has expired.
func (d *Driver) FailStale(ctx context.Context) (int, error) {
	ids, err := d.repo.Stale(ctx, d.now())
	if err != nil {
		return 0, fmt.Errorf("list stale batches: %w", err)
	}
	failed := 0
	for _, id := range ids {
		if err := d.Fail(ctx, id, ErrRecipeExpired); err != nil {
			if !errors.Is(err, ErrNotRunning) {
				slog.ErrorContext(ctx, "failed to fail stale batch", "recipe_id", id, "error", err)
			}
			continue
		}
		failed++
	}
	return failed, nil
}

func (d *Driver) Status(ctx context.Context, recipeID string) (BatchStatus, error) {
	return d.repo.Status(ctx, recipeID)
}

func (d *Driver) dispatch(ctx context.Context, handle string, item ingredient.WorkItem) error {
	body, err := json.Marshal(DispatchMessage{
		Handle:        handle,
		Item:          item,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch message: %w", err)
	}
	if err := d.pub.Publish(config.TopicIngredientDispatch, body); err != nil {
		return fmt.Errorf("publish dispatch: %w", err)
	}
	return nil
}

func (d *Driver) publishFailure(ctx context.Context, ev assembly.FailureEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal failure event: %w", err)
	}
	if err := d.pub.Publish(config.TopicRecipeFailed, body); err != nil {
		return fmt.Errorf("publish failure event: %w", err)
	}
	return nil
}

func (d *Driver) alert(ctx context.Context, a Alert) {
	body, _ := json.Marshal(a)
	if err := d.pub.Publish(config.TopicOperatorAlert, body); err != nil {
		slog.ErrorContext(ctx, "failed to publish operator alert", "kind", a.Kind, "error", err)
	}
}
