package correlation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps records in process. Expired records behave as absent.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record), now: time.Now}
}

func (s *MemoryStore) live(jobID string) (Record, bool) {
	rec, ok := s.records[jobID]
	if !ok {
		return Record{}, false
	}
	if !rec.ExpiresAt.IsZero() && !s.now().Before(rec.ExpiresAt) {
		delete(s.records, jobID)
		return Record{}, false
	}
	return rec, true
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(rec.JobID); ok {
		return fmt.Errorf("%w: %s", ErrExists, rec.JobID)
	}
	s.records[rec.JobID] = rec
	return nil
}

func (s *MemoryStore) Peek(_ context.Context, jobID string) (Projection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.live(jobID)
	if !ok {
		return Projection{}, ErrNotFound
	}
	return Projection{ResumeHandle: rec.ResumeHandle, AttemptCount: rec.AttemptCount}, nil
}

func (s *MemoryStore) Take(_ context.Context, jobID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.live(jobID)
	if !ok {
		return Record{}, ErrNotFound
	}
	delete(s.records, jobID)
	return rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, jobID)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
