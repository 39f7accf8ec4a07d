package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sheetsync/internal/domain"

	"github.com/google/uuid"
)

// JobStore persists ingestion jobs. All times are stored as unix milliseconds.
type JobStore struct {
	db *DB
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, job_key, request_json, status, attempts, last_error, result_json,
	available_at, lease_until, created_at, updated_at`

// ── Lifecycle ──────────────────────────────────────────────

// Insert stores a new pending job. The ID is assigned when empty.
func (s *JobStore) Insert(ctx context.Context, job *domain.IngestJob) error {
	now := time.Now()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = domain.JobPending
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.AvailableAt.IsZero() {
		job.AvailableAt = now
	}

	req, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	_, err = s.db.conn.ExecContext(ctx,
		`INSERT INTO ingest_jobs (id, job_key, request_json, status, attempts, available_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
		job.ID, job.Key, string(req), job.Status,
		job.AvailableAt.UnixMilli(), now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Claim leases up to limit runnable jobs in enqueue order. A job is runnable
// when it is pending and due, or running with an expired lease. A job whose
// key has an older unfinished job waits, so edits to one entity stay in order.
// Jobs listed in skip are never claimed; the caller still holds them.
func (s *JobStore) Claim(ctx context.Context, now time.Time, lease time.Duration, limit int, skip ...string) ([]domain.IngestJob, error) {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	nowMs := now.UnixMilli()
	args := []any{nowMs, nowMs}
	held := ""
	if len(skip) > 0 {
		held = " AND j.id NOT IN (?" + strings.Repeat(", ?", len(skip)-1) + ")"
		for _, id := range skip {
			args = append(args, id)
		}
	}
	args = append(args, limit)

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM ingest_jobs j
		 WHERE ((j.status = 'pending' AND j.available_at <= ?)
		     OR (j.status = 'running' AND j.lease_until < ?))`+held+`
		   AND (j.job_key = '' OR NOT EXISTS (
		       SELECT 1 FROM ingest_jobs e
		       WHERE e.job_key = j.job_key AND e.seq < j.seq
		         AND e.status IN ('pending', 'running')))
		 ORDER BY j.seq ASC LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("select runnable: %w", err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}

	leaseUntil := now.Add(lease)
	for i := range jobs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE ingest_jobs SET status = 'running', attempts = attempts + 1,
			 lease_until = ?, updated_at = ? WHERE id = ?`,
			leaseUntil.UnixMilli(), nowMs, jobs[i].ID,
		); err != nil {
			return nil, fmt.Errorf("lease job %s: %w", jobs[i].ID, err)
		}
		jobs[i].Status = domain.JobRunning
		jobs[i].Attempts++
		jobs[i].LeaseUntil = leaseUntil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return jobs, nil
}

// Renew moves the lease of a running job to until.
func (s *JobStore) Renew(ctx context.Context, id string, until time.Time) error {
	_, err := s.db.conn.ExecContext(ctx,
		`UPDATE ingest_jobs SET lease_until = ?, updated_at = ? WHERE id = ? AND status = 'running'`,
		until.UnixMilli(), time.Now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("renew lease %s: %w", id, err)
	}
	return nil
}

// Complete marks a job done and stores its result.
func (s *JobStore) Complete(ctx context.Context, id string, result domain.IngestResult) error {
	res, _ := json.Marshal(result)
	_, err := s.db.conn.ExecContext(ctx,
		`UPDATE ingest_jobs SET status = 'done', result_json = ?, last_error = '', lease_until = 0, updated_at = ?
		 WHERE id = ?`,
		string(res), time.Now().UnixMilli(), id,
	)
	return err
}

// Fail records an error and makes the job runnable again at retryAt.
func (s *JobStore) Fail(ctx context.Context, id, errMsg string, retryAt time.Time) error {
	_, err := s.db.conn.ExecContext(ctx,
		`UPDATE ingest_jobs SET status = 'pending', last_error = ?, available_at = ?, lease_until = 0, updated_at = ?
		 WHERE id = ?`,
		errMsg, retryAt.UnixMilli(), time.Now().UnixMilli(), id,
	)
	return err
}

// Bury parks a job that exhausted its attempts.
func (s *JobStore) Bury(ctx context.Context, id, errMsg string) error {
	_, err := s.db.conn.ExecContext(ctx,
		`UPDATE ingest_jobs SET status = 'dead', last_error = ?, lease_until = 0, updated_at = ? WHERE id = ?`,
		errMsg, time.Now().UnixMilli(), id,
	)
	return err
}

// Retry requeues a dead job with a fresh attempt budget.
func (s *JobStore) Retry(ctx context.Context, id string) error {
	now := time.Now().UnixMilli()
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE ingest_jobs SET status = 'pending', attempts = 0, available_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'dead'`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("dead job %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ── Queries ────────────────────────────────────────────────

func (s *JobStore) Get(ctx context.Context, id string) (*domain.IngestJob, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM ingest_jobs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return &jobs[0], nil
}

// ListByStatus returns jobs in the given status, oldest first.
func (s *JobStore) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.IngestJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM ingest_jobs WHERE status = ? ORDER BY seq ASC LIMIT ?`,
		status, limit)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// Counts returns the number of jobs per status.
func (s *JobStore) Counts(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM ingest_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// PurgeDone deletes finished jobs last touched before the cutoff.
func (s *JobStore) PurgeDone(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.conn.ExecContext(ctx,
		`DELETE FROM ingest_jobs WHERE status = 'done' AND updated_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanJobs(rows *sql.Rows) ([]domain.IngestJob, error) {
	defer rows.Close()

	var jobs []domain.IngestJob
	for rows.Next() {
		var (
			j                                         domain.IngestJob
			reqJSON, resJSON, status                  string
			availableAt, leaseUntil, created, updated int64
		)
		if err := rows.Scan(&j.ID, &j.Key, &reqJSON, &status, &j.Attempts, &j.LastErr, &resJSON,
			&availableAt, &leaseUntil, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if err := json.Unmarshal([]byte(reqJSON), &j.Request); err != nil {
			return nil, fmt.Errorf("decode job %s: %w", j.ID, err)
		}
		if resJSON != "" {
			var res domain.IngestResult
			if json.Unmarshal([]byte(resJSON), &res) == nil {
				j.Result = &res
			}
		}
		j.Status = domain.JobStatus(status)
		j.AvailableAt = time.UnixMilli(availableAt)
		if leaseUntil > 0 {
			j.LeaseUntil = time.UnixMilli(leaseUntil)
		}
		j.CreatedAt = time.UnixMilli(created)
		j.UpdatedAt = time.UnixMilli(updated)
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}
