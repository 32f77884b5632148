package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
	"github.com/nemanja-m/scrapegrid/internal/shared/logging"
)

func newTestBus(size int) *Bus {
	return NewBus(size, logging.NewNopLogger())
}

func receive(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Message{}
	}
}

func TestBus_FanOut(t *testing.T) {
	bus := newTestBus(8)
	a := bus.Subscribe()
	b := bus.Subscribe()
	defer a.Close()
	defer b.Close()

	job := &core.Job{ID: uuid.New(), URL: "https://example.com/@alice", Status: core.JobStatusPending}
	bus.Publish(core.JobCreated{Job: job, At: time.Now()})

	for _, sub := range []*Subscription{a, b} {
		msg := receive(t, sub)
		assert.Equal(t, core.EventJobCreated, msg.Type)
	}
}

func TestBus_OrderPerObserver(t *testing.T) {
	bus := newTestBus(128)
	sub := bus.Subscribe()
	defer sub.Close()

	ids := make([]uuid.UUID, 50)
	for i := range ids {
		ids[i] = uuid.New()
		bus.Publish(core.JobAssigned{JobID: ids[i], WorkerID: uuid.New(), AssignedAt: time.Now()})
	}

	for _, want := range ids {
		msg := receive(t, sub)
		var env struct {
			Data struct {
				JobID uuid.UUID `json:"job_id"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(msg.Payload, &env))
		assert.Equal(t, want, env.Data.JobID)
	}
}

func TestBus_DropsSlowObserver(t *testing.T) {
	bus := newTestBus(2)
	slow := bus.Subscribe()
	fast := bus.Subscribe()

	var wg sync.WaitGroup
	got := 0
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range fast.C {
			got++
			if got == 5 {
				return
			}
		}
	}()

	for range 5 {
		bus.Publish(core.StatsUpdated{At: time.Now()})
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, 5, got)
	assert.Equal(t, 1, bus.Observers(), "slow observer should be dropped")

	// The slow observer keeps its buffered messages, then sees a closed channel.
	n := 0
	for range slow.C {
		n++
	}
	assert.Equal(t, 2, n)

	fast.Close()
	slow.Close()
	assert.Equal(t, 0, bus.Observers())
}

func TestBus_UnsubscribeAndClose(t *testing.T) {
	bus := newTestBus(4)
	sub := bus.Subscribe()
	sub.Close()
	sub.Close()

	bus.Publish(core.StatsUpdated{At: time.Now()})
	_, ok := <-sub.C
	assert.False(t, ok)

	other := bus.Subscribe()
	bus.Close()
	_, ok = <-other.C
	assert.False(t, ok)

	late := bus.Subscribe()
	_, ok = <-late.C
	assert.False(t, ok, "subscribing to a closed bus yields a closed channel")
}

func TestEncode_Envelope(t *testing.T) {
	at := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	workerID := uuid.New()
	jobID := uuid.New()
	msg := "scraping"

	tests := []struct {
		name  string
		event core.Event
		check func(t *testing.T, data map[string]any)
	}{
		{
			name:  "worker connected",
			event: core.WorkerConnected{Worker: &core.Worker{ID: workerID, Status: core.WorkerStatusIdle}, At: at},
			check: func(t *testing.T, data map[string]any) {
				assert.Equal(t, workerID.String(), data["id"])
				assert.Equal(t, "IDLE", data["status"])
			},
		},
		{
			name:  "worker disconnected",
			event: core.WorkerDisconnected{WorkerID: workerID, Reason: "heartbeat timeout", JobID: &jobID, At: at},
			check: func(t *testing.T, data map[string]any) {
				assert.Equal(t, "heartbeat timeout", data["reason"])
				assert.Equal(t, jobID.String(), data["job_id"])
			},
		},
		{
			name: "job progress",
			event: core.JobProgressed{
				Job:         &core.Job{ID: jobID, Status: core.JobStatusRunning, AssignedWorkerID: &workerID, ProcessedItems: 5, TotalItems: 10},
				CurrentItem: "https://example.com/v/1",
				Message:     msg,
				At:          at,
			},
			check: func(t *testing.T, data map[string]any) {
				assert.Equal(t, float64(5), data["processed_items"])
				assert.Equal(t, "https://example.com/v/1", data["current_item"])
				assert.Equal(t, workerID.String(), data["assigned_worker_id"])
			},
		},
		{
			name: "job assigned carries the busy worker",
			event: core.JobAssigned{
				JobID: jobID, WorkerID: workerID, AssignedAt: at,
				Worker: &core.Worker{ID: workerID, Status: core.WorkerStatusBusy, CurrentJobID: &jobID},
			},
			check: func(t *testing.T, data map[string]any) {
				assert.Equal(t, jobID.String(), data["job_id"])
				worker, ok := data["worker"].(map[string]any)
				require.True(t, ok, "worker snapshot present")
				assert.Equal(t, "BUSY", worker["status"])
				assert.Equal(t, jobID.String(), worker["current_job_id"])
			},
		},
		{
			name: "job completed carries the freed worker",
			event: core.JobCompleted{
				Job:    &core.Job{ID: jobID, Status: core.JobStatusCompleted, LastWorkerID: &workerID, ProcessedItems: 9},
				Worker: &core.Worker{ID: workerID, Status: core.WorkerStatusIdle, JobsCompleted: 1, ItemsScraped: 9},
				At:     at,
			},
			check: func(t *testing.T, data map[string]any) {
				assert.Equal(t, "COMPLETED", data["status"])
				assert.Equal(t, float64(9), data["processed_items"])
				worker, ok := data["worker"].(map[string]any)
				require.True(t, ok, "worker snapshot present")
				assert.Equal(t, "IDLE", worker["status"])
				assert.Equal(t, float64(1), worker["jobs_completed"])
			},
		},
		{
			name:  "job failed after worker removal has no worker",
			event: core.JobFailed{Job: &core.Job{ID: jobID, Status: core.JobStatusFailed}, At: at},
			check: func(t *testing.T, data map[string]any) {
				assert.Equal(t, "FAILED", data["status"])
				assert.NotContains(t, data, "worker")
			},
		},
		{
			name:  "stats",
			event: core.StatsUpdated{Stats: core.SystemStats{TotalWorkers: 3, PendingJobs: 2}, At: at},
			check: func(t *testing.T, data map[string]any) {
				assert.Equal(t, float64(3), data["total_workers"])
				assert.Equal(t, float64(2), data["pending_jobs"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Encode(tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.event.Type(), m.Type)

			var env struct {
				Type      string         `json:"type"`
				Data      map[string]any `json:"data"`
				Timestamp time.Time      `json:"timestamp"`
			}
			require.NoError(t, json.Unmarshal(m.Payload, &env))
			assert.Equal(t, string(tt.event.Type()), env.Type)
			assert.True(t, at.Equal(env.Timestamp))
			tt.check(t, env.Data)
		})
	}
}

func TestEncodeSnapshot(t *testing.T) {
	snap := &core.DashboardSnapshot{
		Stats:   core.SystemStats{TotalJobs: 1},
		Workers: []*core.Worker{{ID: uuid.New(), Status: core.WorkerStatusIdle}},
		ActiveJobs: []*core.Job{
			{ID: uuid.New(), Status: core.JobStatusPending},
		},
	}
	m, err := EncodeSnapshot(snap, time.Now())
	require.NoError(t, err)
	assert.Equal(t, TypeSnapshot, m.Type)

	var env struct {
		Data SnapshotView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(m.Payload, &env))
	assert.Len(t, env.Data.Workers, 1)
	assert.Len(t, env.Data.ActiveJobs, 1)
	assert.NotNil(t, env.Data.RecentJobs)
}
