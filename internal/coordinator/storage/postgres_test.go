package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
)

var jobColumnNames = []string{
	"id", "url", "label", "status", "assigned_worker_id", "last_worker_id",
	"created_at", "updated_at", "started_at", "completed_at",
	"total_items", "processed_items", "failed_items", "error_message", "result_location",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return NewPostgresStore(sqlx.NewDb(mockDB, "postgres")), mock
}

func TestPostgresStore_CreateJob(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	job := &core.Job{ID: uuid.New(), URL: "https://example.com/@alice", Label: "alice", Status: core.JobStatusPending, CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(
			job.ID.String(), job.URL, "alice", "PENDING",
			nil, nil, now, now, nil, nil, 0, 0, 0, nil, nil,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStore_CreateJob_Duplicate(t *testing.T) {
	store, mock := newMockStore(t)
	job := &core.Job{ID: uuid.New(), Status: core.JobStatusPending}

	mock.ExpectExec("INSERT INTO jobs").WillReturnError(&pq.Error{Code: "23505"})

	if err := store.CreateJob(context.Background(), job); !errors.Is(err, core.ErrConflict) {
		t.Errorf("CreateJob() error = %v, want ErrConflict", err)
	}
}

func TestPostgresStore_GetJob(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	worker := uuid.New()
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id = \\$1").
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(
			id.String(), "https://example.com/@bob", "bob", "RUNNING", worker.String(), worker.String(),
			now, now, now, nil, 10, 4, 1, nil, nil,
		))

	job, err := store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.Status != core.JobStatusRunning || job.ProcessedItems != 4 {
		t.Errorf("GetJob() = %+v", job)
	}
	if job.AssignedWorkerID == nil || *job.AssignedWorkerID != worker {
		t.Errorf("AssignedWorkerID = %v, want %s", job.AssignedWorkerID, worker)
	}
	if job.CompletedAt != nil || job.ErrorMessage != nil {
		t.Errorf("nullable columns not mapped to nil: %+v", job)
	}
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnError(sql.ErrNoRows)

	if _, err := store.GetJob(context.Background(), uuid.New()); !errors.Is(err, core.ErrJobNotFound) {
		t.Errorf("GetJob() error = %v, want ErrJobNotFound", err)
	}
}

func TestPostgresStore_GetJob_Transient(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM jobs").WillReturnError(errors.New("connection reset"))

	_, err := store.GetJob(context.Background(), uuid.New())
	if !errors.Is(err, core.ErrTransient) {
		t.Errorf("GetJob() error = %v, want ErrTransient", err)
	}
}

func assignedJob() *core.Job {
	now := time.Now()
	w := uuid.New()
	return &core.Job{
		ID: uuid.New(), Status: core.JobStatusAssigned, AssignedWorkerID: &w, LastWorkerID: &w,
		CreatedAt: now, UpdatedAt: now, StartedAt: &now,
	}
}

func TestPostgresStore_UpdateJob_CompareAndSet(t *testing.T) {
	store, mock := newMockStore(t)
	job := assignedJob()

	mock.ExpectExec("UPDATE jobs (.+) WHERE id = \\$1 AND status = ANY\\(\\$14\\)").
		WithArgs(
			job.ID.String(), sqlmock.AnyArg(), "ASSIGNED", sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), nil, 0, 0, 0, nil, nil, sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.UpdateJob(context.Background(), job, core.JobStatusPending); err != nil {
		t.Fatalf("UpdateJob() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStore_UpdateJob_LostRace(t *testing.T) {
	store, mock := newMockStore(t)
	job := assignedJob()

	mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM jobs WHERE id = \\$1").
		WithArgs(job.ID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("ASSIGNED"))

	err := store.UpdateJob(context.Background(), job, core.JobStatusPending)
	if !errors.Is(err, core.ErrStatusMismatch) || !errors.Is(err, core.ErrConflict) {
		t.Errorf("UpdateJob() error = %v, want ErrStatusMismatch", err)
	}
}

func TestPostgresStore_UpdateJob_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	job := assignedJob()

	mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM jobs").WillReturnError(sql.ErrNoRows)

	if err := store.UpdateJob(context.Background(), job); !errors.Is(err, core.ErrJobNotFound) {
		t.Errorf("UpdateJob() error = %v, want ErrJobNotFound", err)
	}
}

func TestPostgresStore_ListPendingJobs(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	first, second := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE status = \\$1 ORDER BY created_at, id LIMIT \\$2").
		WithArgs("PENDING", 10).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).
			AddRow(first.String(), "https://a.example", "", "PENDING", nil, nil, now, now, nil, nil, 0, 0, 0, nil, nil).
			AddRow(second.String(), "https://b.example", "", "PENDING", nil, nil, now.Add(time.Second), now, nil, nil, 0, 0, 0, nil, nil))

	jobs, err := store.ListPendingJobs(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListPendingJobs() error = %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != first || jobs[1].ID != second {
		t.Errorf("ListPendingJobs() = %v", jobs)
	}
}

func TestPostgresStore_ListJobs(t *testing.T) {
	store, mock := newMockStore(t)
	status := core.JobStatusCompleted
	now := time.Now()
	id := uuid.New()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM jobs WHERE status = \\$1").
		WithArgs("COMPLETED").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE status = \\$1 ORDER BY created_at DESC, id LIMIT \\$2 OFFSET \\$3").
		WithArgs("COMPLETED", 1, 5).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).
			AddRow(id.String(), "https://a.example", "", "COMPLETED", nil, nil, now, now, now, now, 3, 3, 0, nil, "/results/job.jsonl"))

	jobs, total, err := store.ListJobs(context.Background(), core.JobFilter{Status: &status, Limit: 1, Offset: 5})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if total != 7 || len(jobs) != 1 {
		t.Fatalf("ListJobs() = %d jobs, total %d", len(jobs), total)
	}
	if jobs[0].ResultLocation == nil || *jobs[0].ResultLocation != "/results/job.jsonl" {
		t.Errorf("ResultLocation = %v", jobs[0].ResultLocation)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStore_CountJobsByStatus(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT status, COUNT\\(\\*\\) AS count FROM jobs GROUP BY status").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("PENDING", 4).
			AddRow("FAILED", 2))

	counts, err := store.CountJobsByStatus(context.Background())
	if err != nil {
		t.Fatalf("CountJobsByStatus() error = %v", err)
	}
	if counts[core.JobStatusPending] != 4 || counts[core.JobStatusFailed] != 2 {
		t.Errorf("CountJobsByStatus() = %v", counts)
	}
}

func TestPostgresStore_SaveAndGetWorker(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	job := uuid.New()
	worker := &core.Worker{
		ID: uuid.New(), Hostname: "node-1", Address: "10.0.0.5:7000",
		Capabilities: map[string]string{"max_concurrency": "4"},
		Status:       core.WorkerStatusBusy, CurrentJobID: &job,
		LastHeartbeatAt: now, ConnectedAt: now, JobsCompleted: 2, ItemsScraped: 40,
		Version: 5,
	}

	mock.ExpectExec("INSERT INTO workers (.+) ON CONFLICT \\(id\\) DO UPDATE (.+) WHERE workers.version <= EXCLUDED.version").
		WithArgs(
			worker.ID.String(), "node-1", "10.0.0.5:7000", []byte(`{"max_concurrency":"4"}`), "BUSY",
			job.String(), now, now, 2, 40, int64(5),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SaveWorker(context.Background(), worker); err != nil {
		t.Fatalf("SaveWorker() error = %v", err)
	}

	mock.ExpectQuery("SELECT (.+) FROM workers WHERE id = \\$1").
		WithArgs(worker.ID.String()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "hostname", "address", "capabilities", "status", "current_job_id",
			"last_heartbeat_at", "connected_at", "jobs_completed", "items_scraped", "version",
		}).AddRow(worker.ID.String(), "node-1", "10.0.0.5:7000", []byte(`{"max_concurrency":"4"}`), "OFFLINE", nil, now, now, 2, 40, 6))

	got, err := store.GetWorker(context.Background(), worker.ID)
	if err != nil {
		t.Fatalf("GetWorker() error = %v", err)
	}
	if got.Status != core.WorkerStatusOffline || got.Capabilities["max_concurrency"] != "4" || got.CurrentJobID != nil || got.Version != 6 {
		t.Errorf("GetWorker() = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStore_MarkWorkersOffline(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE workers SET status = \\$1, current_job_id = NULL WHERE status <> \\$1").
		WithArgs("OFFLINE").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.MarkWorkersOffline(context.Background())
	if err != nil || n != 3 {
		t.Errorf("MarkWorkersOffline() = %d, %v; want 3", n, err)
	}
}

func TestPostgresStore_SumItemsScraped(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(items_scraped\\), 0\\) FROM workers").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1234))

	total, err := store.SumItemsScraped(context.Background())
	if err != nil || total != 1234 {
		t.Errorf("SumItemsScraped() = %d, %v", total, err)
	}
}
