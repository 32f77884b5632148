package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
)

const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
	DefaultPingTimeout     = 5 * time.Second
)

// Connect opens a pooled PostgreSQL connection and verifies it.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// PostgresStore keeps jobs and workers in PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type jobRow struct {
	ID               uuid.UUID      `db:"id"`
	URL              string         `db:"url"`
	Label            string         `db:"label"`
	Status           string         `db:"status"`
	AssignedWorkerID uuid.NullUUID  `db:"assigned_worker_id"`
	LastWorkerID     uuid.NullUUID  `db:"last_worker_id"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	StartedAt        sql.NullTime   `db:"started_at"`
	CompletedAt      sql.NullTime   `db:"completed_at"`
	TotalItems       int            `db:"total_items"`
	ProcessedItems   int            `db:"processed_items"`
	FailedItems      int            `db:"failed_items"`
	ErrorMessage     sql.NullString `db:"error_message"`
	ResultLocation   sql.NullString `db:"result_location"`
}

const jobColumns = `id, url, label, status, assigned_worker_id, last_worker_id,
	created_at, updated_at, started_at, completed_at,
	total_items, processed_items, failed_items, error_message, result_location`

func (r jobRow) toJob() *core.Job {
	return &core.Job{
		ID:               r.ID,
		URL:              r.URL,
		Label:            r.Label,
		Status:           core.JobStatus(r.Status),
		AssignedWorkerID: fromNullUUID(r.AssignedWorkerID),
		LastWorkerID:     fromNullUUID(r.LastWorkerID),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		StartedAt:        fromNullTime(r.StartedAt),
		CompletedAt:      fromNullTime(r.CompletedAt),
		TotalItems:       r.TotalItems,
		ProcessedItems:   r.ProcessedItems,
		FailedItems:      r.FailedItems,
		ErrorMessage:     fromNullString(r.ErrorMessage),
		ResultLocation:   fromNullString(r.ResultLocation),
	}
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *core.Job) error {
	if err := core.CheckJobInvariants(job); err != nil {
		return err
	}
	query := `INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.URL, job.Label, string(job.Status),
		toNullUUID(job.AssignedWorkerID), toNullUUID(job.LastWorkerID),
		job.CreatedAt, job.UpdatedAt, toNullTime(job.StartedAt), toNullTime(job.CompletedAt),
		job.TotalItems, job.ProcessedItems, job.FailedItems,
		toNullString(job.ErrorMessage), toNullString(job.ResultLocation),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("job %s already exists: %w", job.ID, core.ErrConflict)
		}
		return core.Transient("create job", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*core.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrJobNotFound
		}
		return nil, core.Transient("get job", err)
	}
	return row.toJob(), nil
}

// UpdateJob writes every mutable column. With expected statuses the write
// is conditional on the current status, evaluated by the database.
func (s *PostgresStore) UpdateJob(ctx context.Context, job *core.Job, expected ...core.JobStatus) error {
	if err := core.CheckJobInvariants(job); err != nil {
		return err
	}
	query := `
		UPDATE jobs
		SET label = $2, status = $3, assigned_worker_id = $4, last_worker_id = $5,
		    updated_at = $6, started_at = $7, completed_at = $8,
		    total_items = $9, processed_items = $10, failed_items = $11,
		    error_message = $12, result_location = $13
		WHERE id = $1`
	args := []any{
		job.ID, job.Label, string(job.Status),
		toNullUUID(job.AssignedWorkerID), toNullUUID(job.LastWorkerID),
		job.UpdatedAt, toNullTime(job.StartedAt), toNullTime(job.CompletedAt),
		job.TotalItems, job.ProcessedItems, job.FailedItems,
		toNullString(job.ErrorMessage), toNullString(job.ResultLocation),
	}
	if len(expected) > 0 {
		query += ` AND status = ANY($14)`
		args = append(args, pq.Array(statusStrings(expected)))
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return core.Transient("update job", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.Transient("update job", err)
	}
	if affected > 0 {
		return nil
	}

	var status string
	err = s.db.GetContext(ctx, &status, `SELECT status FROM jobs WHERE id = $1`, job.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrJobNotFound
		}
		return core.Transient("update job", err)
	}
	return fmt.Errorf("job %s is %s: %w", job.ID, status, core.ErrStatusMismatch)
}

// ListJobs returns jobs newest first. A non-positive limit means no limit.
func (s *PostgresStore) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, int, error) {
	where := ""
	var args []any
	if filter.Status != nil {
		where = ` WHERE status = $1`
		args = append(args, string(*filter.Status))
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM jobs`+where, args...); err != nil {
		return nil, 0, core.Transient("count jobs", err)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs` + where + ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, core.Transient("list jobs", err)
	}
	jobs := make([]*core.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.toJob())
	}
	return jobs, total, nil
}

// ListPendingJobs returns PENDING jobs oldest first using the status index.
func (s *PostgresStore) ListPendingJobs(ctx context.Context, limit int) ([]*core.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 ORDER BY created_at, id`
	args := []any{string(core.JobStatusPending)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, core.Transient("list pending jobs", err)
	}
	jobs := make([]*core.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.toJob())
	}
	return jobs, nil
}

func (s *PostgresStore) CountJobsByStatus(ctx context.Context) (map[core.JobStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS count FROM jobs GROUP BY status`); err != nil {
		return nil, core.Transient("count jobs by status", err)
	}
	counts := make(map[core.JobStatus]int, len(rows))
	for _, r := range rows {
		counts[core.JobStatus(r.Status)] = r.Count
	}
	return counts, nil
}

type workerRow struct {
	ID              uuid.UUID     `db:"id"`
	Hostname        string        `db:"hostname"`
	Address         string        `db:"address"`
	Capabilities    []byte        `db:"capabilities"`
	Status          string        `db:"status"`
	CurrentJobID    uuid.NullUUID `db:"current_job_id"`
	LastHeartbeatAt time.Time     `db:"last_heartbeat_at"`
	ConnectedAt     time.Time     `db:"connected_at"`
	JobsCompleted   int           `db:"jobs_completed"`
	ItemsScraped    int           `db:"items_scraped"`
	Version         int64         `db:"version"`
}

const workerColumns = `id, hostname, address, capabilities, status, current_job_id,
	last_heartbeat_at, connected_at, jobs_completed, items_scraped, version`

func (r workerRow) toWorker() (*core.Worker, error) {
	var caps map[string]string
	if len(r.Capabilities) > 0 {
		if err := json.Unmarshal(r.Capabilities, &caps); err != nil {
			return nil, fmt.Errorf("decode capabilities of worker %s: %w", r.ID, err)
		}
	}
	return &core.Worker{
		ID:              r.ID,
		Hostname:        r.Hostname,
		Address:         r.Address,
		Capabilities:    caps,
		Status:          core.WorkerStatus(r.Status),
		CurrentJobID:    fromNullUUID(r.CurrentJobID),
		LastHeartbeatAt: r.LastHeartbeatAt,
		ConnectedAt:     r.ConnectedAt,
		JobsCompleted:   r.JobsCompleted,
		ItemsScraped:    r.ItemsScraped,
		Version:         r.Version,
	}, nil
}

// SaveWorker upserts the worker row unless the stored row carries a newer
// version.
func (s *PostgresStore) SaveWorker(ctx context.Context, worker *core.Worker) error {
	if err := core.CheckWorkerInvariants(worker); err != nil {
		return err
	}
	caps := worker.Capabilities
	if caps == nil {
		caps = map[string]string{}
	}
	capsJSON, err := json.Marshal(caps)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}

	query := `
		INSERT INTO workers (` + workerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			address = EXCLUDED.address,
			capabilities = EXCLUDED.capabilities,
			status = EXCLUDED.status,
			current_job_id = EXCLUDED.current_job_id,
			last_heartbeat_at = EXCLUDED.last_heartbeat_at,
			jobs_completed = EXCLUDED.jobs_completed,
			items_scraped = EXCLUDED.items_scraped,
			version = EXCLUDED.version
		WHERE workers.version <= EXCLUDED.version`

	_, err = s.db.ExecContext(ctx, query,
		worker.ID, worker.Hostname, worker.Address, capsJSON, string(worker.Status),
		toNullUUID(worker.CurrentJobID), worker.LastHeartbeatAt, worker.ConnectedAt,
		worker.JobsCompleted, worker.ItemsScraped, worker.Version,
	)
	if err != nil {
		return core.Transient("save worker", err)
	}
	return nil
}

func (s *PostgresStore) GetWorker(ctx context.Context, id uuid.UUID) (*core.Worker, error) {
	var row workerRow
	err := s.db.GetContext(ctx, &row, `SELECT `+workerColumns+` FROM workers WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrWorkerNotFound
		}
		return nil, core.Transient("get worker", err)
	}
	return row.toWorker()
}

func (s *PostgresStore) ListWorkers(ctx context.Context) ([]*core.Worker, error) {
	var rows []workerRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+workerColumns+` FROM workers ORDER BY connected_at, id`); err != nil {
		return nil, core.Transient("list workers", err)
	}
	workers := make([]*core.Worker, 0, len(rows))
	for _, r := range rows {
		w, err := r.toWorker()
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}

func (s *PostgresStore) MarkWorkersOffline(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE workers SET status = $1, current_job_id = NULL WHERE status <> $1`,
		string(core.WorkerStatusOffline),
	)
	if err != nil {
		return 0, core.Transient("mark workers offline", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, core.Transient("mark workers offline", err)
	}
	return int(n), nil
}

func (s *PostgresStore) SumItemsScraped(ctx context.Context) (int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COALESCE(SUM(items_scraped), 0) FROM workers`); err != nil {
		return 0, core.Transient("sum items scraped", err)
	}
	return total, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func statusStrings(statuses []core.JobStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func toNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func fromNullUUID(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func fromNullTime(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}
