package app

import (
	"context"
	"time"

	"walking_bus_notifier/internal/domain/job"
	idb "walking_bus_notifier/internal/infra/database"

	"github.com/sirupsen/logrus"
)

// testNotificationDelay is how far in the future an ad-hoc test trigger
// fires.
const testNotificationDelay = 2 * time.Minute

// TestDescriptor is the short-lived, externally provided description of an
// ad-hoc test notification: the target bus and an explicit participant
// subset.
type TestDescriptor struct {
	BusID          int64   `json:"walking_bus_id"`
	ParticipantIDs []int64 `json:"participant_ids"`
}

// DescriptorStore resolves a test job key to its descriptor. Descriptors
// live in a TTL'd key-value store; a nil result means the key expired or
// never existed.
type DescriptorStore interface {
	Fetch(ctx context.Context, jobKey string) (*TestDescriptor, error)
}

// Dispatcher receives reconfiguration events from the listener and turns
// them into reconciler and runtime actions. The underlying transport is
// at-least-once; everything here is idempotent, so duplicates are harmless.
type Dispatcher struct {
	reconciler  *Reconciler
	runtime     TriggerRuntime
	jobRepo     job.Repository
	descriptors DescriptorStore
	notifier    Notifier
	log         *logrus.Entry
	now         func() time.Time
}

func NewDispatcher(
	reconciler *Reconciler,
	runtime TriggerRuntime,
	jobRepo job.Repository,
	descriptors DescriptorStore,
	notifier Notifier,
	log *logrus.Entry,
) *Dispatcher {
	return &Dispatcher{
		reconciler:  reconciler,
		runtime:     runtime,
		jobRepo:     jobRepo,
		descriptors: descriptors,
		notifier:    notifier,
		log:         log,
		now:         time.Now,
	}
}

// HandleScheduleChanged reconciles the named bus, or every bus when the
// event does not name one.
func (d *Dispatcher) HandleScheduleChanged(ctx context.Context, busID int64) {
	if busID == 0 {
		if err := d.reconciler.ReconcileAll(ctx); err != nil {
			d.log.WithError(err).Error("Full reconciliation after schedule change failed")
		}
		return
	}
	if err := d.reconciler.ReconcileBus(ctx, busID); err != nil {
		d.log.WithError(err).Errorf("Reconciliation after schedule change failed for bus %d", busID)
	}
}

// HandleTestRequested schedules a one-shot test notification two minutes
// out. The job record doubles as the cancellation path: deleting it from the
// store before fire time turns the firing into a no-op.
func (d *Dispatcher) HandleTestRequested(ctx context.Context, jobKey string) {
	desc, err := d.descriptors.Fetch(ctx, jobKey)
	if err != nil {
		d.log.WithError(err).Errorf("Failed to fetch test notification descriptor %s", jobKey)
		return
	}
	if desc == nil {
		d.log.Warnf("Test notification descriptor %s expired or missing, dropping request", jobKey)
		return
	}

	key := job.Key(jobKey)
	fireAt := d.runtime.RunOnce(key, testNotificationDelay, d.testJob(key, desc))
	if err := d.jobRepo.Upsert(ctx, &job.Record{
		Key:         key,
		BusID:       desc.BusID,
		Type:        job.TypeTestNotification,
		NextRunTime: fireAt,
	}); err != nil {
		d.log.WithError(err).Errorf("Failed to record test notification job %s", key)
		d.runtime.Remove(key)
		return
	}
	d.log.Infof("Test notification %s for bus %d scheduled at %s", key, desc.BusID, fireAt.Format(time.RFC3339))
}

func (d *Dispatcher) testJob(key job.Key, desc *TestDescriptor) job.Func {
	return func(ctx context.Context) error {
		rec, err := d.jobRepo.Get(ctx, key)
		if err == idb.ErrJobNotFound {
			d.log.Infof("Test notification %s was cancelled before fire time", key)
			return nil
		}
		if err != nil {
			return err
		}
		defer func() {
			if err := d.jobRepo.Delete(ctx, rec.Key); err != nil {
				d.log.WithError(err).Errorf("Failed to delete fired test job %s", rec.Key)
			}
		}()
		return d.notifier.SendReminders(ctx, desc.BusID, desc.ParticipantIDs, LogTypeTestNotification)
	}
}
