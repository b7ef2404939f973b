package schedule

import "time"

// Weekday is the day slot of a weekly schedule. Monday is 0 so that the
// ordinal matches the column order of the schedule table, not the cron or
// time.Weekday numbering.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday

	NumWeekdays = 7
)

var weekdayNames = [NumWeekdays]string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

func (w Weekday) String() string {
	if w < Monday || w > Sunday {
		return "invalid"
	}
	return weekdayNames[w]
}

func (w Weekday) Valid() bool {
	return w >= Monday && w <= Sunday
}

// Prev returns the preceding weekday, wrapping Monday back to Sunday.
func (w Weekday) Prev() Weekday {
	return (w + NumWeekdays - 1) % NumWeekdays
}

// CronOrdinal maps to the standard cron day-of-week field (0 = Sunday).
func (w Weekday) CronOrdinal() int {
	return (int(w) + 1) % NumWeekdays
}

// FromTime converts from time.Weekday (0 = Sunday).
func FromTime(d time.Weekday) Weekday {
	return Weekday((int(d) + 6) % NumWeekdays)
}
