package registry

import (
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestRegister(t *testing.T) {
	clock := newFakeClock()
	r := New(clock.Now)

	caps := map[string]string{"domains": "tiktok.com"}
	w := r.Register(core.WorkerInfo{Hostname: "node-1", Address: "10.0.0.1:7000", Capabilities: caps})

	assert.NotEqual(t, uuid.Nil, w.ID)
	assert.Equal(t, core.WorkerStatusIdle, w.Status)
	assert.Equal(t, clock.Now(), w.ConnectedAt)
	assert.Equal(t, clock.Now(), w.LastHeartbeatAt)
	assert.Nil(t, w.CurrentJobID)

	caps["domains"] = "changed"
	got, err := r.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, "tiktok.com", got.Capabilities["domains"])

	other := r.Register(core.WorkerInfo{Hostname: "node-1"})
	assert.NotEqual(t, w.ID, other.ID, "ids are allocated, never reused")
}

func TestHeartbeat(t *testing.T) {
	clock := newFakeClock()
	r := New(clock.Now)
	w := r.Register(core.WorkerInfo{Hostname: "node-1"})

	clock.Advance(10 * time.Second)
	got, changed, err := r.Heartbeat(w.ID, core.WorkerStatusError)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, core.WorkerStatusError, got.Status)
	assert.Equal(t, clock.Now(), got.LastHeartbeatAt)

	got, changed, err = r.Heartbeat(w.ID, core.WorkerStatusIdle)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, core.WorkerStatusIdle, got.Status)

	got, changed, err = r.Heartbeat(w.ID, core.WorkerStatusIdle)
	require.NoError(t, err)
	assert.False(t, changed, "repeated status is not a change")

	// A worker cannot claim BUSY on its own.
	got, changed, err = r.Heartbeat(w.ID, core.WorkerStatusBusy)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, core.WorkerStatusIdle, got.Status)

	_, _, err = r.Heartbeat(uuid.New(), core.WorkerStatusIdle)
	assert.ErrorIs(t, err, core.ErrWorkerNotFound)
}

func TestHeartbeat_KeepsBusyWorkerBusy(t *testing.T) {
	r := New(nil)
	w := r.Register(core.WorkerInfo{})
	job := uuid.New()
	_, err := r.MarkBusy(w.ID, job)
	require.NoError(t, err)

	got, changed, err := r.Heartbeat(w.ID, core.WorkerStatusIdle)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, core.WorkerStatusBusy, got.Status)
	require.NotNil(t, got.CurrentJobID)
	assert.Equal(t, job, *got.CurrentJobID)
}

func TestMarkBusyAndIdle(t *testing.T) {
	r := New(nil)
	w := r.Register(core.WorkerInfo{})
	job := uuid.New()

	busy, err := r.MarkBusy(w.ID, job)
	require.NoError(t, err)
	assert.Equal(t, core.WorkerStatusBusy, busy.Status)
	holder, ok := r.AssignedWorker(job)
	require.True(t, ok)
	assert.Equal(t, w.ID, holder)

	_, err = r.MarkBusy(w.ID, uuid.New())
	assert.ErrorIs(t, err, core.ErrWorkerUnavailable)

	_, err = r.MarkIdle(w.ID, uuid.New())
	assert.ErrorIs(t, err, core.ErrNotAssignee)

	idle, err := r.MarkIdle(w.ID, job)
	require.NoError(t, err)
	assert.Equal(t, core.WorkerStatusIdle, idle.Status)
	assert.Nil(t, idle.CurrentJobID)
	assert.Equal(t, 0, idle.JobsCompleted)
	_, ok = r.AssignedWorker(job)
	assert.False(t, ok)

	_, err = r.MarkBusy(uuid.New(), job)
	assert.ErrorIs(t, err, core.ErrWorkerUnavailable)
}

func TestCompleteJob(t *testing.T) {
	r := New(nil)
	w := r.Register(core.WorkerInfo{})
	job := uuid.New()
	_, err := r.MarkBusy(w.ID, job)
	require.NoError(t, err)

	got, err := r.CompleteJob(w.ID, job, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, got.JobsCompleted)
	assert.Equal(t, 10, got.ItemsScraped)
	assert.Equal(t, core.WorkerStatusIdle, got.Status)

	// A replayed completion must not count twice.
	_, err = r.CompleteJob(w.ID, job, 10)
	assert.ErrorIs(t, err, core.ErrNotAssignee)
	got, _ = r.Get(w.ID)
	assert.Equal(t, 1, got.JobsCompleted)
}

func TestReleaseJob(t *testing.T) {
	r := New(nil)
	w := r.Register(core.WorkerInfo{})
	job := uuid.New()
	_, err := r.MarkBusy(w.ID, job)
	require.NoError(t, err)

	got, ok := r.ReleaseJob(job)
	require.True(t, ok)
	assert.Equal(t, w.ID, got.ID)
	assert.Equal(t, core.WorkerStatusIdle, got.Status)

	_, ok = r.ReleaseJob(job)
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	r := New(nil)
	w := r.Register(core.WorkerInfo{})
	job := uuid.New()
	_, err := r.MarkBusy(w.ID, job)
	require.NoError(t, err)

	prior, err := r.Remove(w.ID)
	require.NoError(t, err)
	require.NotNil(t, prior.CurrentJobID)
	assert.Equal(t, job, *prior.CurrentJobID)
	_, ok := r.AssignedWorker(job)
	assert.False(t, ok, "assignment entry removed with the worker")

	_, err = r.Remove(w.ID)
	assert.ErrorIs(t, err, core.ErrWorkerNotFound)
	_, _, err = r.Heartbeat(w.ID, core.WorkerStatusIdle)
	assert.ErrorIs(t, err, core.ErrWorkerNotFound)
}

func TestVersionAdvancesOnEveryMutation(t *testing.T) {
	r := New(nil)
	w := r.Register(core.WorkerInfo{})
	assert.Equal(t, int64(1), w.Version)

	hb, _, err := r.Heartbeat(w.ID, core.WorkerStatusIdle)
	require.NoError(t, err)
	job := uuid.New()
	busy, err := r.MarkBusy(w.ID, job)
	require.NoError(t, err)
	idle, err := r.MarkIdle(w.ID, job)
	require.NoError(t, err)
	removed, err := r.Remove(w.ID)
	require.NoError(t, err)

	versions := []int64{w.Version, hb.Version, busy.Version, idle.Version, removed.Version}
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1], "versions %v", versions)
	}
}

func TestStaleAndRemoveIfStale(t *testing.T) {
	clock := newFakeClock()
	r := New(clock.Now)
	old := r.Register(core.WorkerInfo{Hostname: "old"})
	clock.Advance(45 * time.Second)
	fresh := r.Register(core.WorkerInfo{Hostname: "fresh"})
	clock.Advance(30 * time.Second)

	cutoff := clock.Now().Add(-60 * time.Second)
	stale := r.Stale(cutoff)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)

	_, removed := r.RemoveIfStale(fresh.ID, cutoff)
	assert.False(t, removed)

	// A heartbeat that wins the race keeps the worker alive.
	require.NoError(t, r.Touch(old.ID))
	_, removed = r.RemoveIfStale(old.ID, cutoff)
	assert.False(t, removed)

	clock.Advance(61 * time.Second)
	cutoff = clock.Now().Add(-60 * time.Second)
	_, removed = r.RemoveIfStale(old.ID, cutoff)
	assert.True(t, removed)
	_, removed = r.RemoveIfStale(old.ID, cutoff)
	assert.False(t, removed, "second reap is a no-op")
}

func TestIdleWorkersOrder(t *testing.T) {
	clock := newFakeClock()
	r := New(clock.Now)
	var ids []uuid.UUID
	for range 3 {
		ids = append(ids, r.Register(core.WorkerInfo{}).ID)
		clock.Advance(time.Second)
	}
	_, err := r.MarkBusy(ids[1], uuid.New())
	require.NoError(t, err)

	idle := r.IdleWorkers()
	require.Len(t, idle, 2)
	assert.Equal(t, ids[0], idle[0].ID)
	assert.Equal(t, ids[2], idle[1].ID)
	assert.Len(t, r.Snapshot(), 3)
	assert.Equal(t, 3, r.Len())
}

func TestMarkBusy_ConcurrentSameJob(t *testing.T) {
	r := New(nil)
	var workers []uuid.UUID
	for range 16 {
		workers = append(workers, r.Register(core.WorkerInfo{}).ID)
	}
	job := uuid.New()

	var wins atomic.Int32
	var winner atomic.Value
	var wg sync.WaitGroup
	for _, id := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.MarkBusy(id, job); err == nil {
				wins.Add(1)
				winner.Store(id)
			} else if !errors.Is(err, core.ErrAlreadyAssigned) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	holder, ok := r.AssignedWorker(job)
	require.True(t, ok)
	assert.Equal(t, winner.Load().(uuid.UUID), holder)
}

func TestInvariantsUnderConcurrentOperations(t *testing.T) {
	r := New(nil)
	var workers []uuid.UUID
	for range 8 {
		workers = append(workers, r.Register(core.WorkerInfo{}).ID)
	}
	jobs := make([]uuid.UUID, 32)
	for i := range jobs {
		jobs[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(g), 42))
			for range 500 {
				w := workers[rng.IntN(len(workers))]
				j := jobs[rng.IntN(len(jobs))]
				switch rng.IntN(5) {
				case 0:
					_, _ = r.MarkBusy(w, j)
				case 1:
					_, _ = r.MarkIdle(w, j)
				case 2:
					_, _ = r.CompleteJob(w, j, 1)
				case 3:
					_, _ = r.ReleaseJob(j)
				case 4:
					_, _, _ = r.Heartbeat(w, core.WorkerStatusIdle)
				}
			}
		}()
	}
	wg.Wait()

	r.mu.RLock()
	defer r.mu.RUnlock()
	held := 0
	for _, w := range r.workers {
		require.NoError(t, core.CheckWorkerInvariants(w))
		if w.CurrentJobID != nil {
			held++
			assert.Equal(t, w.ID, r.assignments[*w.CurrentJobID])
		}
	}
	assert.Equal(t, held, len(r.assignments))
}
