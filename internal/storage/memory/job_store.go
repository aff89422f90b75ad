package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu    sync.RWMutex
	ids   crawler.IDGenerator
	clock crawler.Clock
	jobs  map[string]crawler.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore(ids crawler.IDGenerator, clock crawler.Clock) *JobStore {
	return &JobStore{
		ids:   ids,
		clock: clock,
		jobs:  make(map[string]crawler.Job),
	}
}

// CreateJob stores a new job in pending status.
func (s *JobStore) CreateJob(
	_ context.Context,
	jobType crawler.JobType,
	targetURL string,
	metadata map[string]any,
) (crawler.Job, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("new job id: %w", err)
	}
	job := crawler.Job{
		ID:        id,
		Type:      jobType,
		Status:    crawler.JobStatusPending,
		TargetURL: targetURL,
		CreatedAt: s.clock.Now(),
		Metadata:  metadata,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return crawler.Job{}, fmt.Errorf("job %s already exists", id)
	}
	s.jobs[id] = job
	return cloneJob(job), nil
}

// UpdateJob applies a partial update. Moving a job to running fails while
// another job is running.
func (s *JobStore) UpdateJob(_ context.Context, id string, update crawler.JobUpdate) (crawler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return crawler.Job{}, fmt.Errorf("job %s: %w", id, crawler.ErrNotFound)
	}
	if update.Status != nil && *update.Status == crawler.JobStatusRunning {
		for otherID, other := range s.jobs {
			if otherID != id && other.Status == crawler.JobStatusRunning {
				return crawler.Job{}, &crawler.AlreadyRunningError{JobID: otherID}
			}
		}
	}
	next, err := job.Apply(update, s.clock.Now())
	if err != nil {
		return crawler.Job{}, err
	}
	s.jobs[id] = next
	return cloneJob(next), nil
}

// GetRunningJob returns the running job, or nil when none is running.
func (s *JobStore) GetRunningJob(_ context.Context) (*crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if job.Status == crawler.JobStatusRunning {
			out := cloneJob(job)
			return &out, nil
		}
	}
	return nil, nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, id string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return crawler.Job{}, fmt.Errorf("job %s: %w", id, crawler.ErrNotFound)
	}
	return cloneJob(job), nil
}

// RecentJobs returns up to limit jobs, newest first.
func (s *JobStore) RecentJobs(_ context.Context, limit int) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneJob(job crawler.Job) crawler.Job {
	if job.Metadata != nil {
		meta := make(map[string]any, len(job.Metadata))
		for k, v := range job.Metadata {
			meta[k] = v
		}
		job.Metadata = meta
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		job.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		job.CompletedAt = &t
	}
	return job
}

var _ crawler.JobStore = (*JobStore)(nil)
