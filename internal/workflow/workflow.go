// Package workflow drives the per-line branches of an ingredient batch: it fans
// work items out as dispatch messages, resumes branches by handle and hands the
// converged batch to the assembler exactly once.
package workflow

import (
	"context"
	"time"

	"recipebox/backend/internal/ingredient"
)

type BatchStatus string

const (
	BatchRunning    BatchStatus = "running"
	BatchAssembling BatchStatus = "assembling"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

type Branch struct {
	Handle   string
	Position int
	Item     ingredient.WorkItem
}

// DispatchMessage asks a worker to dispatch one attempt of a branch.
type DispatchMessage struct {
	Handle        string              `json:"handle"`
	Item          ingredient.WorkItem `json:"item"`
	CorrelationID string              `json:"correlationId,omitempty"`
}

const AlertOutOfCredits = "outOfCredits"

// Alert is an operator-facing event.
type Alert struct {
	Kind     string    `json:"kind"`
	RecipeID string    `json:"recipeId"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

type Repository interface {
	CreateBatch(ctx context.Context, recipeID string, expiresAt time.Time, branches []Branch) error
	// RotateHandle moves a pending branch to a new handle. ok is false when old
	// is not the live handle of a pending branch.
	RotateHandle(ctx context.Context, old, next string, item ingredient.WorkItem) (ok bool, err error)
	// ResolveBranch stores the outcome of a pending branch and returns its
	// recipe. When handle belongs to a branch that was already resumed, ok is
	// false but the recipe is still returned; unknown handles return "".
	ResolveBranch(ctx context.Context, handle string, outcome ingredient.BatchOutcome) (recipeID string, ok bool, err error)
	// BeginAssembly flips a running batch with no pending branches to assembling.
	// Exactly one caller sees ok.
	BeginAssembly(ctx context.Context, recipeID string) (ok bool, err error)
	Outcomes(ctx context.Context, recipeID string) ([]ingredient.BatchOutcome, error)
	FinishBatch(ctx context.Context, recipeID string, status BatchStatus) error
	// FailBatch flips a running batch, or an expired assembling one, to failed
	// and cancels its pending branches. ok is false otherwise.
	FailBatch(ctx context.Context, recipeID string) (cancelled []ingredient.WorkItem, ok bool, err error)
	// Stale lists running and assembling batches that expired before now.
	Stale(ctx context.Context, now time.Time) ([]string, error)
	Status(ctx context.Context, recipeID string) (BatchStatus, error)
}
