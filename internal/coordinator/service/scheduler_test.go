package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/shared/logging"
)

type assignCall struct {
	job, worker uuid.UUID
}

type fakeAssigner struct {
	mu       sync.Mutex
	jobs     []*core.Job
	workers  []*core.Worker
	errs     map[assignCall]error
	calls    []assignCall
	listErr  error
	panicked bool
}

func (f *fakeAssigner) PendingJobs(_ context.Context, limit int) ([]*core.Job, error) {
	if f.panicked {
		panic("store exploded")
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	if limit > 0 && limit < len(f.jobs) {
		return f.jobs[:limit], nil
	}
	return f.jobs, nil
}

func (f *fakeAssigner) IdleWorkers() []*core.Worker {
	return f.workers
}

func (f *fakeAssigner) Assign(_ context.Context, jobID, workerID uuid.UUID) (*core.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := assignCall{jobID, workerID}
	f.calls = append(f.calls, call)
	return nil, f.errs[call]
}

func (f *fakeAssigner) getCalls() []assignCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]assignCall{}, f.calls...)
}

func jobsAndWorkers(nJobs, nWorkers int) ([]*core.Job, []*core.Worker) {
	var jobs []*core.Job
	for range nJobs {
		jobs = append(jobs, &core.Job{ID: uuid.New(), Status: core.JobStatusPending})
	}
	var workers []*core.Worker
	for range nWorkers {
		workers = append(workers, &core.Worker{ID: uuid.New(), Status: core.WorkerStatusIdle})
	}
	return jobs, workers
}

func TestScheduler_Tick(t *testing.T) {
	j, w := jobsAndWorkers(3, 3)

	tests := []struct {
		name      string
		jobs      []*core.Job
		workers   []*core.Worker
		errs      map[assignCall]error
		batchSize int
		want      []assignCall
		wantCount int
	}{
		{
			name:      "pairs in order",
			jobs:      j[:2],
			workers:   w[:2],
			want:      []assignCall{{j[0].ID, w[0].ID}, {j[1].ID, w[1].ID}},
			wantCount: 2,
		},
		{
			name:      "more jobs than workers",
			jobs:      j,
			workers:   w[:1],
			want:      []assignCall{{j[0].ID, w[0].ID}},
			wantCount: 1,
		},
		{
			name:      "no workers",
			jobs:      j,
			wantCount: 0,
		},
		{
			name:      "unavailable worker is skipped",
			jobs:      j[:1],
			workers:   w[:2],
			errs:      map[assignCall]error{{j[0].ID, w[0].ID}: core.ErrWorkerUnavailable},
			want:      []assignCall{{j[0].ID, w[0].ID}, {j[0].ID, w[1].ID}},
			wantCount: 1,
		},
		{
			name:      "taken job keeps the worker",
			jobs:      j[:2],
			workers:   w[:1],
			errs:      map[assignCall]error{{j[0].ID, w[0].ID}: fmt.Errorf("wrapped: %w", core.ErrAlreadyAssigned)},
			want:      []assignCall{{j[0].ID, w[0].ID}, {j[1].ID, w[0].ID}},
			wantCount: 1,
		},
		{
			name:      "store error moves to next job",
			jobs:      j[:2],
			workers:   w[:1],
			errs:      map[assignCall]error{{j[0].ID, w[0].ID}: errors.New("db down")},
			want:      []assignCall{{j[0].ID, w[0].ID}, {j[1].ID, w[0].ID}},
			wantCount: 1,
		},
		{
			name:      "batch size bounds the pass",
			jobs:      j,
			workers:   w,
			batchSize: 1,
			want:      []assignCall{{j[0].ID, w[0].ID}},
			wantCount: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAssigner{jobs: tt.jobs, workers: tt.workers, errs: tt.errs}
			s := NewScheduler(time.Second, tt.batchSize, a, logging.NewNopLogger())

			assert.Equal(t, tt.wantCount, s.Tick(context.Background()))
			assert.Equal(t, tt.want, nilIfEmpty(a.getCalls()))
		})
	}
}

func nilIfEmpty(calls []assignCall) []assignCall {
	if len(calls) == 0 {
		return nil
	}
	return calls
}

func TestScheduler_StartStopsOnCancel(t *testing.T) {
	j, w := jobsAndWorkers(1, 1)
	a := &fakeAssigner{jobs: j, workers: w}
	s := NewScheduler(10*time.Millisecond, 10, a, logging.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool { return len(a.getCalls()) > 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSafeTick_RecoversPanic(t *testing.T) {
	_, w := jobsAndWorkers(0, 1)
	a := &fakeAssigner{workers: w, panicked: true}
	s := NewScheduler(time.Second, 10, a, logging.NewNopLogger())

	assert.NotPanics(t, func() {
		safeTick(context.Background(), s.logger, func(ctx context.Context) { s.Tick(ctx) })
	})
}

type fakeReaper struct {
	mu        sync.Mutex
	stale     []*core.Worker
	reapErr   error
	reaped    []uuid.UUID
	reconcile int
}

func (f *fakeReaper) StaleWorkers(time.Time) []*core.Worker {
	return f.stale
}

func (f *fakeReaper) ReapWorker(_ context.Context, id uuid.UUID, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reapErr != nil {
		return false, f.reapErr
	}
	f.reaped = append(f.reaped, id)
	return true, nil
}

func (f *fakeReaper) ReconcileOrphans(context.Context, time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconcile++
	return 0, nil
}

func TestLivenessMonitor_Tick(t *testing.T) {
	_, w := jobsAndWorkers(0, 2)

	r := &fakeReaper{stale: w}
	m := NewLivenessMonitor(time.Second, staleTimeout, r, logging.NewNopLogger())
	assert.Equal(t, 2, m.Tick(context.Background()))
	assert.Equal(t, []uuid.UUID{w[0].ID, w[1].ID}, r.reaped)
	assert.Equal(t, 1, r.reconcile)

	failing := &fakeReaper{stale: w, reapErr: errors.New("db down")}
	m = NewLivenessMonitor(time.Second, staleTimeout, failing, logging.NewNopLogger())
	assert.Equal(t, 0, m.Tick(context.Background()))
	assert.Equal(t, 1, failing.reconcile, "orphans are reconciled even when reaping fails")
}

func TestStatsBroadcaster_Tick(t *testing.T) {
	f := newFixture(t)
	f.registerWorker(t, "node-1")
	f.createJob(t)

	b := NewStatsBroadcaster(time.Second, f.coord, f.events, logging.NewNopLogger())
	b.Tick(context.Background())

	f.events.mu.Lock()
	last := f.events.events[len(f.events.events)-1]
	f.events.mu.Unlock()

	stats, ok := last.(core.StatsUpdated)
	if assert.True(t, ok, "last event is %T", last) {
		assert.Equal(t, 1, stats.Stats.IdleWorkers)
		assert.Equal(t, 1, stats.Stats.PendingJobs)
	}
}
