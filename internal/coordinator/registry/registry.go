// Package registry holds the coordinator's in-memory view of connected
// workers and in-flight job assignments.
package registry

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
)

// Registry maps worker id to worker state and job id to worker id. Both
// maps are guarded by one lock so every transition updates them together.
// Callers receive copies; nothing handed out aliases registry state.
type Registry struct {
	mu          sync.RWMutex
	workers     map[uuid.UUID]*core.Worker
	assignments map[uuid.UUID]uuid.UUID // jobID -> workerID
	now         func() time.Time
}

func New(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		workers:     make(map[uuid.UUID]*core.Worker),
		assignments: make(map[uuid.UUID]uuid.UUID),
		now:         now,
	}
}

// Register inserts a new IDLE worker under a freshly allocated id.
func (r *Registry) Register(info core.WorkerInfo) *core.Worker {
	now := r.now()
	w := &core.Worker{
		ID:              uuid.New(),
		Hostname:        info.Hostname,
		Address:         info.Address,
		Capabilities:    maps.Clone(info.Capabilities),
		Status:          core.WorkerStatusIdle,
		LastHeartbeatAt: now,
		ConnectedAt:     now,
		Version:         1,
	}

	r.mu.Lock()
	r.workers[w.ID] = w
	r.mu.Unlock()

	return w.Clone()
}

// Heartbeat refreshes the worker's liveness timestamp and applies the
// reported status. Occupancy belongs to assignment and progress handling,
// so a BUSY worker stays BUSY and only IDLE or ERROR are accepted from
// a worker that holds no job. changed reports whether the status moved.
func (r *Registry) Heartbeat(id uuid.UUID, status core.WorkerStatus) (w *core.Worker, changed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.workers[id]
	if !ok {
		return nil, false, core.ErrWorkerNotFound
	}
	cur.LastHeartbeatAt = r.now()
	if cur.Status != core.WorkerStatusBusy && cur.Status != status &&
		(status == core.WorkerStatusIdle || status == core.WorkerStatusError) {
		cur.Status = status
		changed = true
	}
	cur.Version++
	return cur.Clone(), changed, nil
}

// Touch refreshes the liveness timestamp only.
func (r *Registry) Touch(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return core.ErrWorkerNotFound
	}
	w.LastHeartbeatAt = r.now()
	w.Version++
	return nil
}

// MarkBusy records that workerID now holds jobID.
func (r *Registry) MarkBusy(workerID, jobID uuid.UUID) (*core.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, ok := r.assignments[jobID]; ok {
		return nil, fmt.Errorf("job %s held by worker %s: %w", jobID, holder, core.ErrAlreadyAssigned)
	}
	w, ok := r.workers[workerID]
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", workerID, core.ErrWorkerUnavailable)
	}
	if w.Status != core.WorkerStatusIdle {
		return nil, fmt.Errorf("worker %s is %s: %w", workerID, w.Status, core.ErrWorkerUnavailable)
	}

	w.Status = core.WorkerStatusBusy
	w.CurrentJobID = &jobID
	w.Version++
	r.assignments[jobID] = workerID
	return w.Clone(), nil
}

// MarkIdle releases jobID from workerID.
func (r *Registry) MarkIdle(workerID, jobID uuid.UUID) (*core.Worker, error) {
	return r.release(workerID, jobID, 0, false)
}

// CompleteJob releases jobID from workerID and credits the worker with a
// completed job and items scraped items.
func (r *Registry) CompleteJob(workerID, jobID uuid.UUID, items int) (*core.Worker, error) {
	return r.release(workerID, jobID, items, true)
}

func (r *Registry) release(workerID, jobID uuid.UUID, items int, completed bool) (*core.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return nil, core.ErrWorkerNotFound
	}
	if w.CurrentJobID == nil || *w.CurrentJobID != jobID {
		return nil, fmt.Errorf("worker %s, job %s: %w", workerID, jobID, core.ErrNotAssignee)
	}

	delete(r.assignments, jobID)
	w.CurrentJobID = nil
	w.Status = core.WorkerStatusIdle
	if completed {
		w.JobsCompleted++
		w.ItemsScraped += items
	}
	w.Version++
	return w.Clone(), nil
}

// ReleaseJob frees whichever worker holds jobID. It reports false if the
// job has no holder.
func (r *Registry) ReleaseJob(jobID uuid.UUID) (*core.Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	workerID, ok := r.assignments[jobID]
	if !ok {
		return nil, false
	}
	delete(r.assignments, jobID)
	w, ok := r.workers[workerID]
	if !ok {
		return nil, false
	}
	w.CurrentJobID = nil
	w.Status = core.WorkerStatusIdle
	w.Version++
	return w.Clone(), true
}

// Remove deletes the worker and its assignment entry and returns the state
// it had just before removal. The returned version is newer than any copy
// handed out earlier, so a write of it supersedes in-flight saves.
func (r *Registry) Remove(id uuid.UUID) (*core.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return nil, core.ErrWorkerNotFound
	}
	r.removeLocked(w)
	return w, nil
}

// RemoveIfStale removes the worker only if its last heartbeat is older than
// cutoff. The check and the removal happen under one lock, so a heartbeat
// or progress report that lands first keeps the worker alive.
func (r *Registry) RemoveIfStale(id uuid.UUID, cutoff time.Time) (*core.Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok || !w.LastHeartbeatAt.Before(cutoff) {
		return nil, false
	}
	r.removeLocked(w)
	return w, true
}

func (r *Registry) removeLocked(w *core.Worker) {
	if w.CurrentJobID != nil {
		delete(r.assignments, *w.CurrentJobID)
	}
	delete(r.workers, w.ID)
	w.Version++
}

func (r *Registry) Get(id uuid.UUID) (*core.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[id]
	if !ok {
		return nil, core.ErrWorkerNotFound
	}
	return w.Clone(), nil
}

// AssignedWorker returns the worker holding jobID.
func (r *Registry) AssignedWorker(jobID uuid.UUID) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.assignments[jobID]
	return id, ok
}

// Stale returns workers whose last heartbeat is older than cutoff.
func (r *Registry) Stale(cutoff time.Time) []*core.Worker {
	return r.filter(func(w *core.Worker) bool {
		return w.LastHeartbeatAt.Before(cutoff)
	})
}

// IdleWorkers returns IDLE workers, longest connected first.
func (r *Registry) IdleWorkers() []*core.Worker {
	return r.filter(func(w *core.Worker) bool {
		return w.Status == core.WorkerStatusIdle
	})
}

// Snapshot returns a copy of every registered worker, longest connected
// first. The lock is held only while copying.
func (r *Registry) Snapshot() []*core.Worker {
	return r.filter(func(*core.Worker) bool { return true })
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

func (r *Registry) filter(keep func(*core.Worker) bool) []*core.Worker {
	r.mu.RLock()
	out := make([]*core.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		if keep(w) {
			out = append(out, w.Clone())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *core.Worker) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out
}
