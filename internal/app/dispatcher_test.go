package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"walking_bus_notifier/internal/domain/job"
	"walking_bus_notifier/internal/domain/schedule"
)

type fakeDescriptorStore struct {
	descriptors map[string]*TestDescriptor
	err         error
}

func (f *fakeDescriptorStore) Fetch(ctx context.Context, jobKey string) (*TestDescriptor, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.descriptors[jobKey], nil
}

func newTestDispatcher(schedRepo *fakeScheduleRepo, jobRepo *fakeJobRepo, runtime *fakeRuntime, store *fakeDescriptorStore, notifier *fakeNotifier) *Dispatcher {
	rec := NewReconciler(schedRepo, jobRepo, runtime, notifier, testLog())
	return NewDispatcher(rec, runtime, jobRepo, store, notifier, testLog())
}

func TestHandleScheduleChangedSingleBus(t *testing.T) {
	t.Parallel()
	schedRepo := &fakeScheduleRepo{weeks: map[int64]*schedule.Weekly{
		3: weeklyWith(3, schedule.Monday),
	}}
	jobRepo := newFakeJobRepo()
	runtime := newFakeRuntime()
	d := newTestDispatcher(schedRepo, jobRepo, runtime, &fakeDescriptorStore{}, &fakeNotifier{})

	d.HandleScheduleChanged(context.Background(), 3)
	if _, ok := jobRepo.records[job.KeyFor(3, schedule.Monday)]; !ok {
		t.Fatal("schedule change did not reconcile the bus")
	}
}

func TestHandleScheduleChangedWithoutBusReconcilesAll(t *testing.T) {
	t.Parallel()
	schedRepo := &fakeScheduleRepo{
		buses: []*schedule.Bus{{ID: 1}, {ID: 2}},
		weeks: map[int64]*schedule.Weekly{
			1: weeklyWith(1, schedule.Monday),
			2: weeklyWith(2, schedule.Friday),
		},
	}
	jobRepo := newFakeJobRepo()
	runtime := newFakeRuntime()
	d := newTestDispatcher(schedRepo, jobRepo, runtime, &fakeDescriptorStore{}, &fakeNotifier{})

	d.HandleScheduleChanged(context.Background(), 0)
	if len(jobRepo.records) != 2 {
		t.Fatalf("job store holds %d records, want one per bus", len(jobRepo.records))
	}
}

func TestHandleTestRequestedSchedulesOneShot(t *testing.T) {
	t.Parallel()
	jobRepo := newFakeJobRepo()
	runtime := newFakeRuntime()
	notifier := &fakeNotifier{}
	store := &fakeDescriptorStore{descriptors: map[string]*TestDescriptor{
		"test_abc": {BusID: 7, ParticipantIDs: []int64{100, 101}},
	}}
	d := newTestDispatcher(&fakeScheduleRepo{}, jobRepo, runtime, store, notifier)

	d.HandleTestRequested(context.Background(), "test_abc")

	key := job.Key("test_abc")
	if got := runtime.oneShots[key]; got != 2*time.Minute {
		t.Fatalf("one-shot delay = %s, want 2m", got)
	}
	rec, ok := jobRepo.records[key]
	if !ok {
		t.Fatal("no job record written for the one-shot")
	}
	if rec.Type != job.TypeTestNotification || rec.BusID != 7 {
		t.Fatalf("record = %+v, want test notification for bus 7", rec)
	}

	// Firing runs the batch with the descriptor's participant subset and
	// cleans up the record.
	if err := runtime.oneShotFns[key](context.Background()); err != nil {
		t.Fatalf("one-shot job error: %v", err)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("notifier called %d times, want 1", len(notifier.calls))
	}
	call := notifier.calls[0]
	if call.busID != 7 || len(call.only) != 2 || call.logType != LogTypeTestNotification {
		t.Fatalf("notifier call = %+v, want bus 7 with explicit subset", call)
	}
	if _, ok := jobRepo.records[key]; ok {
		t.Fatal("fired one-shot record must be deleted")
	}
}

func TestHandleTestRequestedCancelledViaJobStore(t *testing.T) {
	t.Parallel()
	jobRepo := newFakeJobRepo()
	runtime := newFakeRuntime()
	notifier := &fakeNotifier{}
	store := &fakeDescriptorStore{descriptors: map[string]*TestDescriptor{
		"test_xyz": {BusID: 4, ParticipantIDs: []int64{1}},
	}}
	d := newTestDispatcher(&fakeScheduleRepo{}, jobRepo, runtime, store, notifier)

	d.HandleTestRequested(context.Background(), "test_xyz")
	// Removing the record before fire time is the cancellation path.
	if err := jobRepo.Delete(context.Background(), job.Key("test_xyz")); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	if err := runtime.oneShotFns[job.Key("test_xyz")](context.Background()); err != nil {
		t.Fatalf("cancelled one-shot job error: %v", err)
	}
	if len(notifier.calls) != 0 {
		t.Fatal("cancelled one-shot must not send anything")
	}
}

func TestHandleTestRequestedExpiredDescriptorDropped(t *testing.T) {
	t.Parallel()
	jobRepo := newFakeJobRepo()
	runtime := newFakeRuntime()
	d := newTestDispatcher(&fakeScheduleRepo{}, jobRepo, runtime, &fakeDescriptorStore{}, &fakeNotifier{})

	d.HandleTestRequested(context.Background(), "gone")
	if len(runtime.oneShots) != 0 || len(jobRepo.records) != 0 {
		t.Fatal("expired descriptor must not schedule anything")
	}
}

func TestHandleTestRequestedStoreError(t *testing.T) {
	t.Parallel()
	jobRepo := newFakeJobRepo()
	runtime := newFakeRuntime()
	d := newTestDispatcher(&fakeScheduleRepo{}, jobRepo, runtime, &fakeDescriptorStore{err: fmt.Errorf("redis down")}, &fakeNotifier{})

	d.HandleTestRequested(context.Background(), "test_abc")
	if len(runtime.oneShots) != 0 {
		t.Fatal("descriptor store failure must not schedule anything")
	}
}
