package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"walking_bus_notifier/internal/domain/attendance"
	"walking_bus_notifier/internal/domain/schedule"

	"github.com/lib/pq"
)

// PostgresAttendanceRepository reads the attendance collaborator data:
// participant weekday defaults, manual per-date overrides, and the
// override/holiday tables deciding whether the bus runs at all on a date.
// All tables are owned by the admin surface; this repository never writes.
type PostgresAttendanceRepository struct {
	db *sql.DB
}

func NewPostgresAttendanceRepository(db *sql.DB) *PostgresAttendanceRepository {
	return &PostgresAttendanceRepository{db: db}
}

func (r *PostgresAttendanceRepository) ListParticipants(ctx context.Context, ids []int64) ([]*attendance.Participant, error) {
	if len(ids) == 0 {
		return []*attendance.Participant{}, nil
	}
	query := `SELECT id, name, monday, tuesday, wednesday, thursday, friday, saturday, sunday
              FROM participants WHERE id = ANY($1::bigint[]) ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("error querying participants: %w", err)
	}
	defer rows.Close()

	participants := make([]*attendance.Participant, 0, len(ids))
	for rows.Next() {
		p := attendance.Participant{}
		if err := rows.Scan(
			&p.ID, &p.Name,
			&p.Weekdays[schedule.Monday], &p.Weekdays[schedule.Tuesday],
			&p.Weekdays[schedule.Wednesday], &p.Weekdays[schedule.Thursday],
			&p.Weekdays[schedule.Friday], &p.Weekdays[schedule.Saturday],
			&p.Weekdays[schedule.Sunday],
		); err != nil {
			return nil, fmt.Errorf("error scanning participant row: %w", err)
		}
		participants = append(participants, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participant rows: %w", err)
	}
	return participants, nil
}

func (r *PostgresAttendanceRepository) GetOverride(ctx context.Context, participantID int64, date time.Time) (*attendance.Override, error) {
	query := `SELECT participant_id, date, status FROM calendar_statuses
              WHERE participant_id = $1 AND date = $2 AND is_manual_override = TRUE
              ORDER BY id DESC LIMIT 1`
	o := attendance.Override{}
	err := r.db.QueryRowContext(ctx, query, participantID, dateOnly(date)).Scan(&o.ParticipantID, &o.Date, &o.Status)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error getting attendance override for participant %d: %w", participantID, err)
	}
	return &o, nil
}

// CheckBusDay decides whether the bus operates on the date: a manual
// operational override wins, then a school holiday suspends the day, then the
// weekly schedule flag decides.
func (r *PostgresAttendanceRepository) CheckBusDay(ctx context.Context, busID int64, date time.Time) (attendance.DayDecision, error) {
	day := dateOnly(date)

	var active bool
	var reason string
	err := r.db.QueryRowContext(ctx,
		`SELECT is_active, reason FROM walking_bus_overrides WHERE walking_bus_id = $1 AND date = $2 LIMIT 1`,
		busID, day,
	).Scan(&active, &reason)
	if err == nil {
		return attendance.DayDecision{Active: active, Reason: reason}, nil
	}
	if err != sql.ErrNoRows {
		return attendance.DayDecision{}, fmt.Errorf("error checking bus day override: %w", err)
	}

	var holiday string
	err = r.db.QueryRowContext(ctx,
		`SELECT name FROM school_holidays WHERE start_date <= $1 AND end_date >= $1 LIMIT 1`,
		day,
	).Scan(&holiday)
	if err == nil {
		return attendance.DayDecision{Active: false, Reason: holiday}, nil
	}
	if err != sql.ErrNoRows {
		return attendance.DayDecision{}, fmt.Errorf("error checking school holidays: %w", err)
	}

	weekly, err := NewPostgresScheduleRepository(r.db).GetWeekly(ctx, busID)
	if err != nil {
		if err == ErrScheduleNotFound {
			return attendance.DayDecision{Active: false, Reason: "no schedule"}, nil
		}
		return attendance.DayDecision{}, err
	}
	weekday := schedule.FromTime(date.Weekday())
	if !weekly.Days[weekday].Enabled {
		return attendance.DayDecision{Active: false, Reason: "inactive weekday"}, nil
	}
	return attendance.DayDecision{Active: true, Reason: "active"}, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
