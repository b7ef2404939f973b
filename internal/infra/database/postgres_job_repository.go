package database

import (
	"context"
	"database/sql"
	"fmt"

	"walking_bus_notifier/internal/domain/job"
)

var ErrJobNotFound = fmt.Errorf("scheduler job not found")

type PostgresJobRepository struct {
	db *sql.DB
}

func NewPostgresJobRepository(db *sql.DB) *PostgresJobRepository {
	return &PostgresJobRepository{db: db}
}

func (r *PostgresJobRepository) Get(ctx context.Context, key job.Key) (*job.Record, error) {
	query := `SELECT job_key, walking_bus_id, job_type, next_run_time
              FROM scheduler_jobs WHERE job_key = $1`
	rec := job.Record{}
	err := r.db.QueryRowContext(ctx, query, string(key)).Scan(&rec.Key, &rec.BusID, &rec.Type, &rec.NextRunTime)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("error getting scheduler job %s: %w", key, err)
	}
	return &rec, nil
}

func (r *PostgresJobRepository) ListByBus(ctx context.Context, busID int64) ([]*job.Record, error) {
	query := `SELECT job_key, walking_bus_id, job_type, next_run_time
              FROM scheduler_jobs WHERE walking_bus_id = $1 ORDER BY job_key`
	rows, err := r.db.QueryContext(ctx, query, busID)
	if err != nil {
		return nil, fmt.Errorf("error querying scheduler jobs for bus %d: %w", busID, err)
	}
	defer rows.Close()

	records := make([]*job.Record, 0)
	for rows.Next() {
		rec := job.Record{}
		if err := rows.Scan(&rec.Key, &rec.BusID, &rec.Type, &rec.NextRunTime); err != nil {
			return nil, fmt.Errorf("error scanning scheduler job row: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scheduler job rows: %w", err)
	}
	return records, nil
}

// ReplaceWeek applies a full week of mutations for one bus in a single
// transaction. Upserts swap the row in place under its stable job key;
// removals of absent keys are no-ops. A failure on any day rolls back the
// whole week so a reader never observes a half-updated schedule.
func (r *PostgresJobRepository) ReplaceWeek(ctx context.Context, busID int64, mutations []job.Mutation) error {
	if len(mutations) == 0 {
		return nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for week replace (bus %d): %w", busID, err)
	}
	defer txn.Rollback() // Rollback if not committed

	upsert := `INSERT INTO scheduler_jobs (job_key, walking_bus_id, job_type, next_run_time)
               VALUES ($1, $2, $3, $4)
               ON CONFLICT (job_key) DO UPDATE
               SET job_type = EXCLUDED.job_type, next_run_time = EXCLUDED.next_run_time`
	remove := `DELETE FROM scheduler_jobs WHERE job_key = $1`

	for _, m := range mutations {
		switch {
		case m.Upsert != nil:
			_, err = txn.ExecContext(ctx, upsert, string(m.Upsert.Key), m.Upsert.BusID, string(m.Upsert.Type), m.Upsert.NextRunTime)
			if err != nil {
				return fmt.Errorf("error upserting scheduler job %s: %w", m.Upsert.Key, err)
			}
		case m.RemoveKey != "":
			_, err = txn.ExecContext(ctx, remove, string(m.RemoveKey))
			if err != nil {
				return fmt.Errorf("error removing scheduler job %s: %w", m.RemoveKey, err)
			}
		}
	}

	return txn.Commit()
}

// Upsert swaps a single job row in place under its stable key. Used for
// one-shot jobs that live outside the weekly reconciliation set.
func (r *PostgresJobRepository) Upsert(ctx context.Context, rec *job.Record) error {
	query := `INSERT INTO scheduler_jobs (job_key, walking_bus_id, job_type, next_run_time)
              VALUES ($1, $2, $3, $4)
              ON CONFLICT (job_key) DO UPDATE
              SET job_type = EXCLUDED.job_type, next_run_time = EXCLUDED.next_run_time`
	_, err := r.db.ExecContext(ctx, query, string(rec.Key), rec.BusID, string(rec.Type), rec.NextRunTime)
	if err != nil {
		return fmt.Errorf("error upserting scheduler job %s: %w", rec.Key, err)
	}
	return nil
}

func (r *PostgresJobRepository) Delete(ctx context.Context, key job.Key) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM scheduler_jobs WHERE job_key = $1`, string(key))
	if err != nil {
		return fmt.Errorf("error deleting scheduler job %s: %w", key, err)
	}
	return nil
}
