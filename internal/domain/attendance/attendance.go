package attendance

import (
	"context"
	"time"

	"walking_bus_notifier/internal/domain/schedule"
)

// Participant carries the weekly default attendance flags. A participant
// whose flag for a weekday is false is not expected that day and receives no
// reminder.
type Participant struct {
	ID       int64
	Name     string
	Weekdays [schedule.NumWeekdays]bool
}

// NormallyAttends reports the weekly default for the given weekday.
func (p *Participant) NormallyAttends(day schedule.Weekday) bool {
	return p.Weekdays[day]
}

// Override is a manual per-date attendance decision. When present for the
// exact date, its status wins over the weekly default.
type Override struct {
	ParticipantID int64
	Date          time.Time
	Status        bool
}

// Fact is the derived attendance status for one participant on one date. It
// is computed on demand and never persisted.
type Fact struct {
	ParticipantID int64
	Date          time.Time
	Attending     bool
	Overridden    bool
}

// Resolve computes the attendance fact for one participant: the weekly
// default for the date's weekday, superseded by a manual override for that
// exact date if one exists.
func Resolve(p *Participant, date time.Time, override *Override) Fact {
	fact := Fact{
		ParticipantID: p.ID,
		Date:          date,
		Attending:     p.NormallyAttends(schedule.FromTime(date.Weekday())),
	}
	if override != nil {
		fact.Attending = override.Status
		fact.Overridden = true
	}
	return fact
}

// DayDecision is the result of checking whether the walking bus operates on a
// date at all: a manual override wins, then a school holiday suspends the
// day, then the weekly schedule flag decides.
type DayDecision struct {
	Active bool
	Reason string
}

// Repository is the read-only attendance data source. The worker never writes
// attendance data; overrides and defaults are owned by the admin surface.
type Repository interface {
	ListParticipants(ctx context.Context, ids []int64) ([]*Participant, error)
	// GetOverride returns nil when no manual override exists for the date.
	GetOverride(ctx context.Context, participantID int64, date time.Time) (*Override, error)
	// CheckBusDay evaluates override, holiday and weekday flag for the date.
	CheckBusDay(ctx context.Context, busID int64, date time.Time) (DayDecision, error)
}
