package db

import (
	"database/sql"
	"time"

	"github.com/wingbeat-social/wingbeat/domain"
)

// Job queue queries. The insert ignores conflicts on the caller-chosen id,
// which is what de-duplicates refresh jobs keyed by actor URL.
const (
	sqlInsertJob     = `INSERT OR IGNORE INTO jobs(id, kind, payload, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectDueJobs = `SELECT id, kind, payload, attempts, next_retry_at, created_at FROM jobs WHERE next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`
	sqlUpdateJobAttempt = `UPDATE jobs SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteJob        = `DELETE FROM jobs WHERE id = ?`
	sqlCountJobsByKind  = `SELECT COUNT(*) FROM jobs WHERE kind = ?`
)

func (db *DB) EnqueueJob(job *domain.Job) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertJob,
			job.Id,
			job.Kind,
			job.Payload,
			job.Attempts,
			job.NextRetryAt,
			job.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadDueJobs(limit int) (error, *[]domain.Job) {
	rows, err := db.db.Query(sqlSelectDueJobs, time.Now().UTC(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		var job domain.Job
		if err := rows.Scan(&job.Id, &job.Kind, &job.Payload, &job.Attempts, &job.NextRetryAt, &job.CreatedAt); err != nil {
			return err, &jobs
		}
		jobs = append(jobs, job)
	}
	if err = rows.Err(); err != nil {
		return err, &jobs
	}
	return nil, &jobs
}

func (db *DB) UpdateJobAttempt(id string, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateJobAttempt, attempts, nextRetry, id)
		return err
	})
}

func (db *DB) DeleteJob(id string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteJob, id)
		return err
	})
}

func (db *DB) CountJobsByKind(kind string) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountJobsByKind, kind).Scan(&count)
	return err, count
}
