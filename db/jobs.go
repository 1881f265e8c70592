package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/bookfed/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertJob = `INSERT INTO jobs(id, name, payload, attempts, next_run_at, locked_until, created_at)
		VALUES (?, ?, ?, 0, ?, 0, ?)`
	sqlSelectDueJobs = `SELECT id, name, payload, attempts, next_run_at, locked_until, created_at FROM jobs
		WHERE next_run_at <= ? AND locked_until <= ?
		ORDER BY next_run_at LIMIT ?`
	sqlLockJob       = `UPDATE jobs SET locked_until = ? WHERE id = ?`
	sqlRescheduleJob = `UPDATE jobs SET attempts = attempts + 1, next_run_at = ?, locked_until = 0 WHERE id = ?`
	sqlDeleteJob     = `DELETE FROM jobs WHERE id = ?`
	sqlCountJobs     = `SELECT COUNT(*) FROM jobs`
)

// EnqueueJob persists a job that becomes due at runAt.
func (db *DB) EnqueueJob(ctx context.Context, job *domain.Job, runAt time.Time) error {
	prepare(&job.Id, &job.CreatedAt)
	job.NextRunAt = runAt
	_, err := db.db.ExecContext(ctx, sqlInsertJob, job.Id, job.Name, string(job.Payload), runAt.UnixMilli(), job.CreatedAt)
	return err
}

// ClaimJobs leases up to limit due jobs until now+lease. A leased job is not
// handed out again before the lease expires, so a crashed worker's jobs are
// picked up by the next poll after expiry.
func (db *DB) ClaimJobs(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		jobs = jobs[:0]
		rows, err := tx.QueryContext(ctx, sqlSelectDueJobs, now.UnixMilli(), now.UnixMilli(), limit)
		if err != nil {
			return err
		}
		for rows.Next() {
			var j domain.Job
			var payload string
			var nextRunAt, lockedUntil int64
			if err := rows.Scan(&j.Id, &j.Name, &payload, &j.Attempts, &nextRunAt, &lockedUntil, &j.CreatedAt); err != nil {
				rows.Close()
				return err
			}
			j.Payload = []byte(payload)
			j.NextRunAt = time.UnixMilli(nextRunAt)
			jobs = append(jobs, j)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		lockedUntil := now.Add(lease)
		for i := range jobs {
			if _, err := tx.ExecContext(ctx, sqlLockJob, lockedUntil.UnixMilli(), jobs[i].Id); err != nil {
				return err
			}
			jobs[i].LockedUntil = lockedUntil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// RescheduleJob records a failed attempt and releases the lease.
func (db *DB) RescheduleJob(ctx context.Context, id uuid.UUID, runAt time.Time) error {
	_, err := db.db.ExecContext(ctx, sqlRescheduleJob, runAt.UnixMilli(), id)
	return err
}

func (db *DB) DeleteJob(ctx context.Context, id uuid.UUID) error {
	_, err := db.db.ExecContext(ctx, sqlDeleteJob, id)
	return err
}

func (db *DB) CountJobs(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountJobs).Scan(&n)
	return n, err
}
