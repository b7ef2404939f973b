package attendance

import (
	"testing"
	"time"

	"walking_bus_notifier/internal/domain/schedule"
)

func monday() time.Time {
	// 2026-08-31 is a Monday.
	return time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
}

func TestResolveWeeklyDefault(t *testing.T) {
	t.Parallel()
	p := &Participant{ID: 1, Name: "Max"}
	p.Weekdays[schedule.Monday] = true

	fact := Resolve(p, monday(), nil)
	if !fact.Attending {
		t.Fatal("expected weekly default to mark participant attending")
	}
	if fact.Overridden {
		t.Fatal("no override was given, fact must not be marked overridden")
	}
}

func TestResolveOverrideWins(t *testing.T) {
	t.Parallel()
	p := &Participant{ID: 1, Name: "Max"}
	p.Weekdays[schedule.Monday] = true

	fact := Resolve(p, monday(), &Override{ParticipantID: 1, Date: monday(), Status: false})
	if fact.Attending {
		t.Fatal("override to absent must win over the weekly default")
	}
	if !fact.Overridden {
		t.Fatal("fact must be marked overridden")
	}
}

func TestNormallyAttends(t *testing.T) {
	t.Parallel()
	p := &Participant{ID: 2}
	p.Weekdays[schedule.Tuesday] = true

	if p.NormallyAttends(schedule.Monday) {
		t.Fatal("monday default is false")
	}
	if !p.NormallyAttends(schedule.Tuesday) {
		t.Fatal("tuesday default is true")
	}
}
