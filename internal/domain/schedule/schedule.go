package schedule

import (
	"context"
	"fmt"
	"time"
)

// NotificationLead is how far ahead of a day's start time the reminder fires.
const NotificationLead = 55 * time.Minute

// TimeOfDay is a wall-clock time with minute granularity.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) minutes() int {
	return t.Hour*60 + t.Minute
}

// Day is one weekday slot of a weekly schedule.
type Day struct {
	Enabled  bool
	HasStart bool
	Start    TimeOfDay
}

// Bus is the organizational unit owning a schedule and a subscriber
// population.
type Bus struct {
	ID   int64
	Name string
}

// Weekly is the full weekly schedule of one walking bus. It is owned and
// mutated by the admin surface; the worker only reads it.
type Weekly struct {
	BusID int64
	Days  [NumWeekdays]Day
}

// Repository provides read access to buses and their weekly schedules.
type Repository interface {
	ListBuses(ctx context.Context) ([]*Bus, error)
	GetWeekly(ctx context.Context, busID int64) (*Weekly, error)
}

// TriggerSpec is the derived firing slot for one enabled weekday. It is never
// persisted on its own; it is recomputed from the Weekly whenever the
// schedule changes.
//
// ScheduleDay identifies the slot (and therefore the job key). FireDay is the
// weekday the trigger actually fires on: subtracting the lead from a start
// shortly after midnight wraps the firing into the evening of the previous
// weekday while the slot stays with the schedule's day.
type TriggerSpec struct {
	BusID       int64
	ScheduleDay Weekday
	FireDay     Weekday
	FireTime    TimeOfDay
}

// Warning reports a schedule inconsistency that skipped a day during
// compilation without failing the rest of the week.
type Warning struct {
	BusID int64
	Day   Weekday
	Msg   string
}

// Compile derives the trigger set from a weekly schedule: one TriggerSpec per
// enabled weekday with a start time, fired NotificationLead before the start.
// Enabled days without a start time are skipped and reported as warnings.
func Compile(w *Weekly) ([]TriggerSpec, []Warning) {
	specs := make([]TriggerSpec, 0, NumWeekdays)
	var warnings []Warning

	for d := Monday; d <= Sunday; d++ {
		day := w.Days[d]
		if !day.Enabled {
			continue
		}
		if !day.HasStart {
			warnings = append(warnings, Warning{
				BusID: w.BusID,
				Day:   d,
				Msg:   "enabled day has no start time",
			})
			continue
		}

		fireDay := d
		fire := day.Start.minutes() - int(NotificationLead.Minutes())
		if fire < 0 {
			fire += 24 * 60
			fireDay = d.Prev()
		}

		specs = append(specs, TriggerSpec{
			BusID:       w.BusID,
			ScheduleDay: d,
			FireDay:     fireDay,
			FireTime:    TimeOfDay{Hour: fire / 60, Minute: fire % 60},
		})
	}
	return specs, warnings
}
