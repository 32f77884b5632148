package storage

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
)

// MemoryStore is a process-local Store. It keeps a status index over jobs
// so pending scans do not walk the whole table.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[uuid.UUID]*core.Job
	byStatus map[core.JobStatus]map[uuid.UUID]struct{}
	workers  map[uuid.UUID]*core.Worker
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[uuid.UUID]*core.Job),
		byStatus: make(map[core.JobStatus]map[uuid.UUID]struct{}),
		workers:  make(map[uuid.UUID]*core.Worker),
	}
}

func (s *MemoryStore) CreateJob(_ context.Context, job *core.Job) error {
	if err := core.CheckJobInvariants(job); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists: %w", job.ID, core.ErrConflict)
	}
	s.putJobLocked(job.Clone())
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*core.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[id]
	if !exists {
		return nil, core.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, job *core.Job, expected ...core.JobStatus) error {
	if err := core.CheckJobInvariants(job); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.jobs[job.ID]
	if !exists {
		return core.ErrJobNotFound
	}
	if len(expected) > 0 && !slices.Contains(expected, current.Status) {
		return fmt.Errorf("job %s is %s: %w", job.ID, current.Status, core.ErrStatusMismatch)
	}
	delete(s.byStatus[current.Status], job.ID)
	s.putJobLocked(job.Clone())
	return nil
}

func (s *MemoryStore) putJobLocked(job *core.Job) {
	s.jobs[job.ID] = job
	idx, ok := s.byStatus[job.Status]
	if !ok {
		idx = make(map[uuid.UUID]struct{})
		s.byStatus[job.Status] = idx
	}
	idx[job.ID] = struct{}{}
}

// ListJobs returns jobs newest first. A non-positive limit means no limit.
func (s *MemoryStore) ListJobs(_ context.Context, filter core.JobFilter) ([]*core.Job, int, error) {
	s.mu.RLock()
	var jobs []*core.Job
	if filter.Status != nil {
		for id := range s.byStatus[*filter.Status] {
			jobs = append(jobs, s.jobs[id].Clone())
		}
	} else {
		for _, job := range s.jobs {
			jobs = append(jobs, job.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b *core.Job) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), slices.Compare(a.ID[:], b.ID[:]))
	})
	return paginate(jobs, filter.Offset, filter.Limit), len(jobs), nil
}

// ListPendingJobs returns PENDING jobs oldest first.
func (s *MemoryStore) ListPendingJobs(_ context.Context, limit int) ([]*core.Job, error) {
	s.mu.RLock()
	jobs := make([]*core.Job, 0, len(s.byStatus[core.JobStatusPending]))
	for id := range s.byStatus[core.JobStatusPending] {
		jobs = append(jobs, s.jobs[id].Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b *core.Job) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), slices.Compare(a.ID[:], b.ID[:]))
	})
	return paginate(jobs, 0, limit), nil
}

func (s *MemoryStore) CountJobsByStatus(_ context.Context) (map[core.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[core.JobStatus]int, len(s.byStatus))
	for status, ids := range s.byStatus {
		if len(ids) > 0 {
			counts[status] = len(ids)
		}
	}
	return counts, nil
}

func (s *MemoryStore) SaveWorker(_ context.Context, worker *core.Worker) error {
	if err := core.CheckWorkerInvariants(worker); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.workers[worker.ID]; ok && cur.Version > worker.Version {
		return nil
	}
	s.workers[worker.ID] = worker.Clone()
	return nil
}

func (s *MemoryStore) GetWorker(_ context.Context, id uuid.UUID) (*core.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	worker, exists := s.workers[id]
	if !exists {
		return nil, core.ErrWorkerNotFound
	}
	return worker.Clone(), nil
}

func (s *MemoryStore) ListWorkers(_ context.Context) ([]*core.Worker, error) {
	s.mu.RLock()
	workers := make([]*core.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(workers, func(a, b *core.Worker) int {
		return cmp.Or(a.ConnectedAt.Compare(b.ConnectedAt), slices.Compare(a.ID[:], b.ID[:]))
	})
	return workers, nil
}

func (s *MemoryStore) MarkWorkersOffline(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.workers {
		if w.Status == core.WorkerStatusOffline {
			continue
		}
		w.Status = core.WorkerStatusOffline
		w.CurrentJobID = nil
		n++
	}
	return n, nil
}

func (s *MemoryStore) SumItemsScraped(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, w := range s.workers {
		total += w.ItemsScraped
	}
	return total, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
