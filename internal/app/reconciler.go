package app

import (
	"context"
	"fmt"
	"time"

	"walking_bus_notifier/internal/domain/job"
	"walking_bus_notifier/internal/domain/schedule"
	idb "walking_bus_notifier/internal/infra/database"

	"github.com/sirupsen/logrus"
)

// misfireGrace is how long after its stored fire time a missed trigger is
// still honored with one late run. Beyond it the occurrence is skipped and
// the trigger waits for its next scheduled slot.
const misfireGrace = 5 * time.Minute

// TriggerRuntime is the live scheduling engine the reconciler keeps in step
// with the job store.
type TriggerRuntime interface {
	Upsert(key job.Key, fireDay schedule.Weekday, fireTime schedule.TimeOfDay, fn job.Func) (time.Time, error)
	Remove(key job.Key)
	RunOnce(key job.Key, delay time.Duration, fn job.Func) time.Time
	TriggerNow(key job.Key, fn job.Func)
}

// Notifier executes a notification batch for one bus. A nil participant
// filter means every participant referenced by the bus's subscriptions.
type Notifier interface {
	SendReminders(ctx context.Context, busID int64, only []int64, logType string) error
}

// Reconciler keeps the job store and the trigger runtime consistent with the
// weekly schedules: after a pass, exactly one trigger and one job record
// exist per enabled weekday per bus, and none for disabled days.
type Reconciler struct {
	scheduleRepo schedule.Repository
	jobRepo      job.Repository
	runtime      TriggerRuntime
	notifier     Notifier
	log          *logrus.Entry
	now          func() time.Time
}

func NewReconciler(
	scheduleRepo schedule.Repository,
	jobRepo job.Repository,
	runtime TriggerRuntime,
	notifier Notifier,
	log *logrus.Entry,
) *Reconciler {
	return &Reconciler{
		scheduleRepo: scheduleRepo,
		jobRepo:      jobRepo,
		runtime:      runtime,
		notifier:     notifier,
		log:          log,
		now:          time.Now,
	}
}

// ReconcileAll reconciles every known bus. One bus's failure is logged and
// does not stop the others.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	return r.reconcileAll(ctx, false)
}

// RecoverAll is the startup variant of ReconcileAll. In addition to
// reconciling, it fires triggers whose stored next run time was missed by
// less than the grace window while no runtime was alive, and prunes one-shot
// job records left behind by the previous process (their timers were
// in-memory and did not survive the restart). Only startup may catch up:
// while the process runs, a stored fire time in the recent past means the
// trigger already fired normally.
func (r *Reconciler) RecoverAll(ctx context.Context) error {
	return r.reconcileAll(ctx, true)
}

func (r *Reconciler) reconcileAll(ctx context.Context, recovery bool) error {
	buses, err := r.scheduleRepo.ListBuses(ctx)
	if err != nil {
		return fmt.Errorf("failed to list buses for reconciliation: %w", err)
	}
	r.log.Infof("Reconciling %d buses", len(buses))
	for _, bus := range buses {
		if err := r.reconcileBus(ctx, bus.ID, recovery); err != nil {
			r.log.WithError(err).Errorf("Reconciliation failed for bus %d", bus.ID)
		}
	}
	return nil
}

// ReconcileBus diffs the compiled trigger set against the runtime and the
// job store for one bus and applies the minimal mutations. The seven job
// rows commit in one transaction; the runtime side is applied first and is
// safe to repeat because installs replace in place under stable keys.
func (r *Reconciler) ReconcileBus(ctx context.Context, busID int64) error {
	return r.reconcileBus(ctx, busID, false)
}

func (r *Reconciler) reconcileBus(ctx context.Context, busID int64, recovery bool) error {
	weekly, err := r.scheduleRepo.GetWeekly(ctx, busID)
	if err != nil {
		if err == idb.ErrScheduleNotFound {
			r.log.Warnf("No weekly schedule for bus %d, removing all triggers", busID)
			return r.removeAll(ctx, busID)
		}
		return fmt.Errorf("failed to load weekly schedule for bus %d: %w", busID, err)
	}

	specs, warnings := schedule.Compile(weekly)
	for _, w := range warnings {
		r.log.Warnf("Schedule inconsistency for bus %d: %s: %s", w.BusID, w.Day, w.Msg)
	}

	desired := make(map[schedule.Weekday]schedule.TriggerSpec, len(specs))
	for _, spec := range specs {
		desired[spec.ScheduleDay] = spec
	}

	now := r.now()
	mutations := make([]job.Mutation, 0, schedule.NumWeekdays)

	if recovery {
		stale, err := r.staleOneShots(ctx, busID)
		if err != nil {
			return err
		}
		mutations = append(mutations, stale...)
	}

	for d := schedule.Monday; d <= schedule.Sunday; d++ {
		key := job.KeyFor(busID, d)
		spec, enabled := desired[d]
		if !enabled {
			// Absence of the trigger or the record is not an error.
			r.runtime.Remove(key)
			mutations = append(mutations, job.Mutation{RemoveKey: key})
			continue
		}

		fn := r.notificationJob(busID)

		if recovery {
			prev, err := r.jobRepo.Get(ctx, key)
			if err != nil && err != idb.ErrJobNotFound {
				return fmt.Errorf("failed to read job record %s: %w", key, err)
			}
			if prev != nil && missedWithinGrace(prev.NextRunTime, now) {
				r.log.Infof("Trigger %s missed its fire time by less than %s while no runtime was alive, running once now", key, misfireGrace)
				r.runtime.TriggerNow(key, fn)
			}
		}

		next, err := r.runtime.Upsert(key, spec.FireDay, spec.FireTime, fn)
		if err != nil {
			return fmt.Errorf("failed to install trigger %s: %w", key, err)
		}

		// The next run time is rewritten even for an unchanged day; a stale
		// stored time self-heals on every pass.
		mutations = append(mutations, job.Mutation{Upsert: &job.Record{
			Key:         key,
			BusID:       busID,
			Type:        job.TypeBusNotification,
			NextRunTime: next,
		}})
	}

	if err := r.jobRepo.ReplaceWeek(ctx, busID, mutations); err != nil {
		return fmt.Errorf("failed to commit job records for bus %d: %w", busID, err)
	}
	r.log.Infof("Reconciled bus %d: %d enabled days", busID, len(desired))
	return nil
}

func (r *Reconciler) removeAll(ctx context.Context, busID int64) error {
	mutations := make([]job.Mutation, 0, schedule.NumWeekdays)
	for d := schedule.Monday; d <= schedule.Sunday; d++ {
		key := job.KeyFor(busID, d)
		r.runtime.Remove(key)
		mutations = append(mutations, job.Mutation{RemoveKey: key})
	}
	if err := r.jobRepo.ReplaceWeek(ctx, busID, mutations); err != nil {
		return fmt.Errorf("failed to remove job records for bus %d: %w", busID, err)
	}
	return nil
}

// staleOneShots finds leftover one-shot records of a dead process. Their
// timers never outlive the process; the records must not linger as jobs that
// look scheduled but will never fire.
func (r *Reconciler) staleOneShots(ctx context.Context, busID int64) ([]job.Mutation, error) {
	records, err := r.jobRepo.ListByBus(ctx, busID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job records for bus %d: %w", busID, err)
	}
	var mutations []job.Mutation
	for _, rec := range records {
		if rec.Type != job.TypeTestNotification {
			continue
		}
		r.log.Infof("Pruning stale one-shot job %s left by a previous process", rec.Key)
		mutations = append(mutations, job.Mutation{RemoveKey: rec.Key})
	}
	return mutations, nil
}

func (r *Reconciler) notificationJob(busID int64) job.Func {
	return func(ctx context.Context) error {
		return r.notifier.SendReminders(ctx, busID, nil, LogTypeScheduleReminder)
	}
}

func missedWithinGrace(scheduled, now time.Time) bool {
	if scheduled.IsZero() || !scheduled.Before(now) {
		return false
	}
	return now.Sub(scheduled) <= misfireGrace
}
