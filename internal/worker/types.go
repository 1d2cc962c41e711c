// Package worker holds the NSQ consumers that carry ingredient branches from
// dispatch to resumption, and the background pruner.
package worker

import (
	"context"
	"time"

	"recipebox/backend/features/job"
	"recipebox/backend/internal/adapter/push"
	"recipebox/backend/internal/assembly"
	"recipebox/backend/internal/ingredient"
	"recipebox/backend/internal/resolution"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, handle string, item ingredient.WorkItem) (string, error)
}

// Driver is the slice of the workflow driver the consumers need.
type Driver interface {
	Resume(ctx context.Context, handle string, r resolution.Resumption) error
	Fail(ctx context.Context, recipeID string, cause error) error
}

type Classifier interface {
	Handle(ctx context.Context, n resolution.Notification) error
}

type Reconciler interface {
	Reconcile(ctx context.Context, ev assembly.FailureEvent) error
}

type Notifier interface {
	Publish(ctx context.Context, channel string, msg push.Message) error
}

// DeadLetters stores messages that exhausted their NSQ attempts.
type DeadLetters interface {
	Save(ctx context.Context, j *job.Job) error
}

type StaleBatches interface {
	FailStale(ctx context.Context) (int, error)
}

type ExpiredRecipes interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
