package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"recipebox/backend/internal/ingredient"
)

type memBranch struct {
	recipeID string
	position int
	handle   string
	state    string
	item     ingredient.WorkItem
	outcome  *ingredient.BatchOutcome
}

type memBatch struct {
	status    BatchStatus
	expiresAt time.Time
	branches  []*memBranch
}

// MemoryRepo keeps workflow state in process, for tests and single-process runs.
type MemoryRepo struct {
	mu      sync.Mutex
	batches map[string]*memBatch
	handles map[string]*memBranch
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{batches: make(map[string]*memBatch), handles: make(map[string]*memBranch)}
}

func (r *MemoryRepo) CreateBatch(_ context.Context, recipeID string, expiresAt time.Time, branches []Branch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[recipeID]; ok {
		return fmt.Errorf("batch for recipe %s already exists", recipeID)
	}
	b := &memBatch{status: BatchRunning, expiresAt: expiresAt}
	for _, br := range branches {
		mb := &memBranch{recipeID: recipeID, position: br.Position, handle: br.Handle, state: "pending", item: br.Item}
		b.branches = append(b.branches, mb)
		r.handles[br.Handle] = mb
	}
	r.batches[recipeID] = b
	return nil
}

func (r *MemoryRepo) RotateHandle(_ context.Context, old, next string, item ingredient.WorkItem) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	br, ok := r.handles[old]
	if !ok || br.state != "pending" {
		return false, nil
	}
	delete(r.handles, old)
	br.handle = next
	br.item = item
	r.handles[next] = br
	return true, nil
}

func (r *MemoryRepo) ResolveBranch(_ context.Context, handle string, outcome ingredient.BatchOutcome) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	br, ok := r.handles[handle]
	if !ok {
		return "", false, nil
	}
	switch br.state {
	case "resumed":
		return br.recipeID, false, nil
	case "cancelled":
		return "", false, nil
	}
	br.state = "resumed"
	br.outcome = &outcome
	return br.recipeID, true, nil
}

func (r *MemoryRepo) BeginAssembly(_ context.Context, recipeID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[recipeID]
	if !ok || b.status != BatchRunning {
		return false, nil
	}
	for _, br := range b.branches {
		if br.state == "pending" {
			return false, nil
		}
	}
	b.status = BatchAssembling
	return true, nil
}

func (r *MemoryRepo) Outcomes(_ context.Context, recipeID string) ([]ingredient.BatchOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[recipeID]
	if !ok {
		return nil, ErrBatchNotFound
	}
	branches := append([]*memBranch(nil), b.branches...)
	sort.Slice(branches, func(i, j int) bool { return branches[i].position < branches[j].position })

	outcomes := []ingredient.BatchOutcome{}
	for _, br := range branches {
		if br.state == "resumed" && br.outcome != nil {
			outcomes = append(outcomes, *br.outcome)
		}
	}
	return outcomes, nil
}

func (r *MemoryRepo) FinishBatch(_ context.Context, recipeID string, status BatchStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.batches[recipeID]; ok {
		b.status = status
	}
	return nil
}

func (r *MemoryRepo) FailBatch(_ context.Context, recipeID string) ([]ingredient.WorkItem, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[recipeID]
	if !ok || !(b.status == BatchRunning || (b.status == BatchAssembling && b.expiresAt.Before(time.Now()))) {
		return nil, false, nil
	}
	b.status = BatchFailed
	var cancelled []ingredient.WorkItem
	for _, br := range b.branches {
		if br.state == "pending" {
			br.state = "cancelled"
			cancelled = append(cancelled, br.item)
		}
	}
	return cancelled, true, nil
}

func (r *MemoryRepo) Stale(_ context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, b := range r.batches {
		if (b.status == BatchRunning || b.status == BatchAssembling) && b.expiresAt.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryRepo) Status(_ context.Context, recipeID string) (BatchStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[recipeID]
	if !ok {
		return "", ErrBatchNotFound
	}
	return b.status, nil
}
