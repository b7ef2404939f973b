package database

import (
	"context"
	"database/sql"
	"fmt"

	"walking_bus_notifier/internal/domain/schedule"
)

var ErrScheduleNotFound = fmt.Errorf("weekly schedule not found")

type PostgresScheduleRepository struct {
	db *sql.DB
}

func NewPostgresScheduleRepository(db *sql.DB) *PostgresScheduleRepository {
	return &PostgresScheduleRepository{db: db}
}

func (r *PostgresScheduleRepository) ListBuses(ctx context.Context) ([]*schedule.Bus, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM walking_buses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("error querying walking buses: %w", err)
	}
	defer rows.Close()

	buses := make([]*schedule.Bus, 0)
	for rows.Next() {
		b := schedule.Bus{}
		if err := rows.Scan(&b.ID, &b.Name); err != nil {
			return nil, fmt.Errorf("error scanning walking bus row: %w", err)
		}
		buses = append(buses, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating walking bus rows: %w", err)
	}
	return buses, nil
}

// GetWeekly reads the per-day columns of the schedule table into the weekly
// schedule value. Unset start times are NULL in the table and come back as
// days without a start.
func (r *PostgresScheduleRepository) GetWeekly(ctx context.Context, busID int64) (*schedule.Weekly, error) {
	query := `SELECT
               monday,    monday_start,
               tuesday,   tuesday_start,
               wednesday, wednesday_start,
               thursday,  thursday_start,
               friday,    friday_start,
               saturday,  saturday_start,
               sunday,    sunday_start
              FROM walking_bus_schedules WHERE walking_bus_id = $1`

	var enabled [schedule.NumWeekdays]bool
	var starts [schedule.NumWeekdays]sql.NullTime

	err := r.db.QueryRowContext(ctx, query, busID).Scan(
		&enabled[schedule.Monday], &starts[schedule.Monday],
		&enabled[schedule.Tuesday], &starts[schedule.Tuesday],
		&enabled[schedule.Wednesday], &starts[schedule.Wednesday],
		&enabled[schedule.Thursday], &starts[schedule.Thursday],
		&enabled[schedule.Friday], &starts[schedule.Friday],
		&enabled[schedule.Saturday], &starts[schedule.Saturday],
		&enabled[schedule.Sunday], &starts[schedule.Sunday],
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("error getting weekly schedule for bus %d: %w", busID, err)
	}

	weekly := &schedule.Weekly{BusID: busID}
	for d := schedule.Monday; d <= schedule.Sunday; d++ {
		weekly.Days[d].Enabled = enabled[d]
		if starts[d].Valid {
			weekly.Days[d].HasStart = true
			weekly.Days[d].Start = schedule.TimeOfDay{
				Hour:   starts[d].Time.Hour(),
				Minute: starts[d].Time.Minute(),
			}
		}
	}
	return weekly, nil
}
