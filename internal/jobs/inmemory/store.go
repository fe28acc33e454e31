package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/sheet-ledger/internal/jobs"
)

// DefaultRetention is how many finished jobs a Store keeps.
const DefaultRetention = 1000

// Store keeps message jobs in process memory. Finished jobs beyond the
// retention limit are evicted oldest first; pending and running jobs are
// never evicted. Everything is lost on restart.
type Store struct {
	mu        sync.RWMutex
	byID      map[string]*jobs.ProcessMessageJob
	finished  []string // finished job ids, oldest first
	retention int
}

// NewStore creates a store keeping DefaultRetention finished jobs.
func NewStore() *Store {
	return NewStoreWithRetention(DefaultRetention)
}

// NewStoreWithRetention creates a store keeping at most n finished jobs.
// n <= 0 keeps every job.
func NewStoreWithRetention(n int) *Store {
	return &Store{byID: make(map[string]*jobs.ProcessMessageJob), retention: n}
}

func finished(s jobs.JobStatus) bool {
	return s == jobs.JobStatusCompleted || s == jobs.JobStatusFailed
}

// snapshot copies a job so callers never share state with the store. The
// image bytes are dropped once a job finished.
func snapshot(job *jobs.ProcessMessageJob) *jobs.ProcessMessageJob {
	c := *job
	if finished(c.Status) {
		c.Image = nil
	}
	return &c
}

// SaveJob implements jobs.JobStore.
func (s *Store) SaveJob(ctx context.Context, job *jobs.ProcessMessageJob) error {
	if job.JobID == "" {
		return fmt.Errorf("SaveJob: job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.byID[job.JobID]
	s.byID[job.JobID] = snapshot(job)
	if finished(job.Status) && (!existed || !finished(prev.Status)) {
		s.markFinished(job.JobID)
	}
	return nil
}

// markFinished records id as finished and evicts beyond the retention limit.
// Callers hold mu.
func (s *Store) markFinished(id string) {
	s.finished = append(s.finished, id)
	if s.retention <= 0 {
		return
	}
	for len(s.finished) > s.retention {
		delete(s.byID, s.finished[0])
		s.finished = s.finished[1:]
	}
}

// GetJob implements jobs.JobStore.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.ProcessMessageJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.byID[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	return snapshot(job), nil
}

// ListJobs implements jobs.JobStore. Jobs come newest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.ProcessMessageJob, error) {
	s.mu.RLock()
	matched := []*jobs.ProcessMessageJob{}
	for _, job := range s.byID {
		if filter.Status == "" || job.Status == filter.Status {
			matched = append(matched, snapshot(job))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.JobID < b.JobID
	})

	if filter.Offset >= len(matched) {
		return []*jobs.ProcessMessageJob{}, nil
	}
	if filter.Offset > 0 {
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// UpdateJobStatus implements jobs.JobStore. An empty errorMsg keeps the
// previous error.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.byID[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	wasFinished := finished(job.Status)
	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}
	if finished(status) && !wasFinished {
		job.Image = nil
		s.markFinished(jobID)
	}
	return nil
}

// Counts returns the number of stored jobs per status.
func (s *Store) Counts() map[jobs.JobStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[jobs.JobStatus]int)
	for _, job := range s.byID {
		counts[job.Status]++
	}
	return counts
}

var _ jobs.JobStore = (*Store)(nil)
