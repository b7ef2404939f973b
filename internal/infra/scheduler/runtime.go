package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"walking_bus_notifier/internal/domain/job"
	"walking_bus_notifier/internal/domain/schedule"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// jobRunTimeout bounds one job body. A notification batch for one bus never
// legitimately takes longer.
const jobRunTimeout = 5 * time.Minute

type task struct {
	key job.Key
	run job.Func
}

// Runtime owns the actual timers: weekly cron triggers and one-shot timers,
// both keyed by job key, executed by a bounded worker pool. Per key at most
// one instance runs or waits at a time; an overlapping firing is skipped, not
// queued.
type Runtime struct {
	log     *logrus.Entry
	loc     *time.Location
	workers int

	cronEngine *cron.Cron

	mu       sync.Mutex
	entries  map[job.Key]cron.EntryID
	inflight map[job.Key]bool
	timers   map[job.Key]*time.Timer

	queue   chan task
	stopCh  chan struct{}
	started bool
	wg      sync.WaitGroup
}

func NewRuntime(workers int, loc *time.Location, log *logrus.Entry) *Runtime {
	if workers < 1 {
		workers = 1
	}
	return &Runtime{
		log:        log,
		loc:        loc,
		workers:    workers,
		cronEngine: cron.New(cron.WithLocation(loc)),
		entries:    make(map[job.Key]cron.EntryID),
		inflight:   make(map[job.Key]bool),
		timers:     make(map[job.Key]*time.Timer),
		queue:      make(chan task, 64),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the worker pool and the cron engine.
func (r *Runtime) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.cronEngine.Start()
	r.log.Infof("Trigger runtime started with %d workers", r.workers)
}

// Stop cancels all timers, stops the cron engine and drains the workers.
func (r *Runtime) Stop() {
	r.mu.Lock()
	for key, t := range r.timers {
		t.Stop()
		delete(r.timers, key)
	}
	r.mu.Unlock()

	stopCtx := r.cronEngine.Stop()
	<-stopCtx.Done()
	close(r.stopCh)
	r.wg.Wait()
	r.log.Info("Trigger runtime stopped")
}

// Upsert installs a weekly trigger under the key, atomically replacing any
// prior trigger held by the same key, and returns the next fire time. The
// stable key is what makes duplicate installs harmless: the new definition
// supersedes the old one, never doubles it.
func (r *Runtime) Upsert(key job.Key, fireDay schedule.Weekday, fireTime schedule.TimeOfDay, fn job.Func) (time.Time, error) {
	spec := fmt.Sprintf("%d %d * * %d", fireTime.Minute, fireTime.Hour, fireDay.CronOrdinal())
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid trigger spec %q for job %s: %w", spec, key, err)
	}

	r.mu.Lock()
	if old, ok := r.entries[key]; ok {
		r.cronEngine.Remove(old)
	}
	id := r.cronEngine.Schedule(sched, cron.FuncJob(func() {
		r.enqueue(key, fn)
	}))
	r.entries[key] = id
	r.mu.Unlock()

	return sched.Next(time.Now().In(r.loc)), nil
}

// Remove drops the trigger held by the key. Removing an absent key is an
// idempotent no-op.
func (r *Runtime) Remove(key job.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.entries[key]; ok {
		r.cronEngine.Remove(id)
		delete(r.entries, key)
	}
	if t, ok := r.timers[key]; ok {
		t.Stop()
		delete(r.timers, key)
	}
}

// RunOnce schedules a one-shot firing after the delay. Scheduling the same
// key again resets the pending timer instead of stacking a second firing.
func (r *Runtime) RunOnce(key job.Key, delay time.Duration, fn job.Func) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[key]; ok {
		t.Stop()
	}
	r.timers[key] = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, key)
		r.mu.Unlock()
		r.enqueue(key, fn)
	})
	return time.Now().In(r.loc).Add(delay)
}

// TriggerNow enqueues one immediate run, subject to the same per-key overlap
// rule as a scheduled firing. Used for misfire catch-up.
func (r *Runtime) TriggerNow(key job.Key, fn job.Func) {
	r.enqueue(key, fn)
}

func (r *Runtime) enqueue(key job.Key, fn job.Func) {
	r.mu.Lock()
	if r.inflight[key] {
		r.mu.Unlock()
		r.log.Warnf("Job %s still running at fire time, skipping this occurrence", key)
		return
	}
	r.inflight[key] = true
	r.mu.Unlock()

	select {
	case r.queue <- task{key: key, run: fn}:
	default:
		r.clearInflight(key)
		r.log.Errorf("Job queue full, dropping firing of %s", key)
	}
}

func (r *Runtime) worker(n int) {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case t := <-r.queue:
			r.runTask(n, t)
		}
	}
}

func (r *Runtime) runTask(worker int, t task) {
	defer r.clearInflight(t.key)
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("Job %s panicked on worker %d: %v", t.key, worker, rec)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jobRunTimeout)
	defer cancel()

	started := time.Now()
	if err := t.run(ctx); err != nil {
		r.log.WithError(err).Errorf("Job %s failed after %s", t.key, time.Since(started).Round(time.Millisecond))
		return
	}
	r.log.Debugf("Job %s completed in %s", t.key, time.Since(started).Round(time.Millisecond))
}

func (r *Runtime) clearInflight(key job.Key) {
	r.mu.Lock()
	delete(r.inflight, key)
	r.mu.Unlock()
}
