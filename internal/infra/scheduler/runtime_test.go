package scheduler

import (
	"context"
	"testing"
	"time"

	"walking_bus_notifier/internal/domain/job"
	"walking_bus_notifier/internal/domain/schedule"

	"github.com/sirupsen/logrus"
)

func testRuntime() *Runtime {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewRuntime(1, time.UTC, logrus.NewEntry(log))
}

func noop(ctx context.Context) error { return nil }

func TestUpsertReplacesExistingTrigger(t *testing.T) {
	t.Parallel()
	r := testRuntime()
	key := job.Key("notify_bus_1_monday")

	if _, err := r.Upsert(key, schedule.Monday, schedule.TimeOfDay{Hour: 6, Minute: 25}, noop); err != nil {
		t.Fatalf("first Upsert error: %v", err)
	}
	if _, err := r.Upsert(key, schedule.Monday, schedule.TimeOfDay{Hour: 7, Minute: 0}, noop); err != nil {
		t.Fatalf("second Upsert error: %v", err)
	}
	if len(r.entries) != 1 {
		t.Fatalf("runtime holds %d entries for one key, want 1", len(r.entries))
	}
	if got := len(r.cronEngine.Entries()); got != 1 {
		t.Fatalf("cron engine holds %d entries, want the replacement only", got)
	}
}

func TestUpsertNextRunMatchesSpec(t *testing.T) {
	t.Parallel()
	r := testRuntime()
	next, err := r.Upsert(job.Key("notify_bus_1_wednesday"), schedule.Wednesday, schedule.TimeOfDay{Hour: 6, Minute: 25}, noop)
	if err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if !next.After(time.Now()) {
		t.Fatalf("next run %s is not in the future", next)
	}
	if next.Weekday() != time.Wednesday {
		t.Fatalf("next run weekday = %s, want Wednesday", next.Weekday())
	}
	if next.Hour() != 6 || next.Minute() != 25 {
		t.Fatalf("next run time = %02d:%02d, want 06:25", next.Hour(), next.Minute())
	}
}

func TestRemoveUnknownKeyIsNoop(t *testing.T) {
	t.Parallel()
	r := testRuntime()
	r.Remove(job.Key("never_installed"))
	if len(r.entries) != 0 {
		t.Fatal("remove of an unknown key changed state")
	}
}

func TestEnqueueSkipsOverlappingInstance(t *testing.T) {
	t.Parallel()
	r := testRuntime()
	key := job.Key("notify_bus_2_friday")

	// Workers are not running, so the first firing stays queued and marks
	// the key inflight; the overlapping second firing must be skipped.
	r.TriggerNow(key, noop)
	r.TriggerNow(key, noop)

	if got := len(r.queue); got != 1 {
		t.Fatalf("queue holds %d tasks, want the overlap skipped", got)
	}
}

func TestInflightClearsAfterRun(t *testing.T) {
	t.Parallel()
	r := testRuntime()
	key := job.Key("notify_bus_2_friday")

	r.TriggerNow(key, noop)
	r.runTask(0, <-r.queue)

	r.TriggerNow(key, noop)
	if got := len(r.queue); got != 1 {
		t.Fatalf("queue holds %d tasks, want re-enqueue after completion", got)
	}
}

func TestRunTaskRecoversPanic(t *testing.T) {
	t.Parallel()
	r := testRuntime()
	key := job.Key("panicky")

	r.TriggerNow(key, func(ctx context.Context) error { panic("boom") })
	r.runTask(0, <-r.queue) // must not propagate

	if r.inflight[key] {
		t.Fatal("inflight flag must clear even after a panic")
	}
}

func TestRunOnceResetsPendingTimer(t *testing.T) {
	t.Parallel()
	r := testRuntime()
	key := job.Key("test_oneshot")

	r.RunOnce(key, time.Hour, noop)
	r.RunOnce(key, time.Hour, noop)
	if len(r.timers) != 1 {
		t.Fatalf("runtime holds %d timers for one key, want 1", len(r.timers))
	}

	r.Remove(key)
	if len(r.timers) != 0 {
		t.Fatal("remove must cancel the pending one-shot timer")
	}
}
