// Package correlation links in-flight inference jobs to the suspended branch
// that dispatched them.
package correlation

import (
	"context"
	"errors"
	"time"

	"recipebox/backend/internal/ingredient"
)

var (
	ErrNotFound = errors.New("correlation record not found")
	ErrExists   = errors.New("correlation record already exists")
)

// Record lives exactly as long as its job is in flight.
type Record struct {
	JobID        string
	ResumeHandle string
	WorkItem     ingredient.WorkItem
	AttemptCount int
	ExpiresAt    time.Time
}

// Projection is the hot-path read: enough to tell whether a job is still
// awaited, without the work item payload.
type Projection struct {
	ResumeHandle string
	AttemptCount int
}

type Store interface {
	// Put fails with ErrExists while a live record holds the job id.
	Put(ctx context.Context, rec Record) error
	Peek(ctx context.Context, jobID string) (Projection, error)
	// Take atomically returns and deletes the record. Concurrent callers
	// observe it at most once; the rest get ErrNotFound.
	Take(ctx context.Context, jobID string) (Record, error)
	Delete(ctx context.Context, jobID string) error
}
