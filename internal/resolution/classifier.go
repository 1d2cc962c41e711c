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

var ErrUnknownNotification = errors.New("unknown notification type")

type NotificationType string

const (
	NotificationCompleted NotificationType = "completed"
	NotificationFailed    NotificationType = "failed"
	NotificationCancelled NotificationType = "cancelled"
)

// Notification is the provider's out-of-band report on a job.
type Notification struct {
	Type          NotificationType `json:"type"`
	JobID         string           `json:"jobId"`
	CorrelationID string           `json:"correlationId,omitempty"`
}

// Resumption is what a suspended branch is resumed with: either a terminal
// outcome or a request to dispatch the next attempt.
type Resumption struct {
	Outcome *ingredient.BatchOutcome `json:"outcome,omitempty"`
	Retry   *ingredient.WorkItem     `json:"retry,omitempty"`
}

type Resumer interface {
	Resume(ctx context.Context, handle string, r Resumption) error
}

type OutputFetcher interface {
	Output(ctx context.Context, jobID string) (string, error)
}

type Classifier struct {
	outputs OutputFetcher
	store   correlation.Store
	resumer Resumer
	policy  RetryPolicy
	now     func() time.Time
}

func NewClassifier(outputs OutputFetcher, store correlation.Store, resumer Resumer, policy RetryPolicy) *Classifier {
	return &Classifier{outputs: outputs, store: store, resumer: resumer, policy: policy, now: time.Now}
}

// Handle resumes the branch that owns n.JobID exactly once. Notifications for
// jobs without a live record are acknowledged and ignored. A returned error
// means the notification should be redelivered.
func (c *Classifier) Handle(ctx context.Context, n Notification) error {
	switch n.Type {
	case NotificationCompleted, NotificationFailed, NotificationCancelled:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownNotification, n.Type)
	}

	if _, err := c.store.Peek(ctx, n.JobID); err != nil {
		return c.absent(ctx, n, err)
	}

	var (
		output   string
		fetchErr error
	)
	if n.Type == NotificationCompleted {
		output, fetchErr = c.outputs.Output(ctx, n.JobID)
		if errors.Is(fetchErr, ingredient.ErrProviderTransient) || isContextErr(fetchErr) {
			return fmt.Errorf("fetch output for job %s: %w", n.JobID, fetchErr)
		}
	}

	rec, err := c.store.Take(ctx, n.JobID)
	if err != nil {
		return c.absent(ctx, n, err)
	}
	item := rec.WorkItem
	item.AttemptCount = rec.AttemptCount

	var r Resumption
	switch {
	case n.Type != NotificationCompleted:
		slog.WarnContext(ctx, "inference job did not complete", "job_id", n.JobID, "type", n.Type, "attempt", item.AttemptCount)
		r = c.retryOrFallback(item)
	case fetchErr != nil:
		slog.WarnContext(ctx, "inference output unavailable", "job_id", n.JobID, "error", fetchErr)
		r = c.retryOrFallback(item)
	default:
		results, err := ingredient.ParseResponse(output, item.Content)
		if err != nil {
			slog.WarnContext(ctx, "model output unparsable", "job_id", n.JobID, "attempt", item.AttemptCount, "error", err)
			r = c.retryOrFallback(item)
		} else {
			out := ingredient.Resolved(item, results)
			r = Resumption{Outcome: &out}
		}
	}

	if err := c.resumer.Resume(ctx, rec.ResumeHandle, r); err != nil {
		if perr := c.store.Put(ctx, rec); perr != nil {
			slog.ErrorContext(ctx, "failed to restore correlation record", "job_id", n.JobID, "error", perr)
		}
		return fmt.Errorf("resume branch for job %s: %w", n.JobID, err)
	}

	if r.Outcome != nil {
		metrics.Outcomes.WithLabelValues(string(r.Outcome.Status)).Inc()
	}
	slog.InfoContext(ctx, "branch resumed", "job_id", n.JobID, "ingredient_id", item.IngredientID, "retry", r.Retry != nil)
	return nil
}

func (c *Classifier) absent(ctx context.Context, n Notification, err error) error {
	if errors.Is(err, correlation.ErrNotFound) {
		metrics.DuplicateNotifications.Inc()
		slog.InfoContext(ctx, "no live correlation record, ignoring notification", "job_id", n.JobID, "type", n.Type)
		return nil
	}
	return fmt.Errorf("lookup correlation for job %s: %w", n.JobID, err)
}

func (c *Classifier) retryOrFallback(item ingredient.WorkItem) Resumption {
	if next, ok := c.policy.Next(item, c.now()); ok {
		metrics.Retries.Inc()
		return Resumption{Retry: &next}
	}
	out := ingredient.Fallback(item, ingredient.StatusUnparsableModelOutput)
	return Resumption{Outcome: &out}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
