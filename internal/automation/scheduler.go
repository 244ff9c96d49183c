package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Scheduler tuning defaults.
const (
	// defaultTickInterval paces due-schedule evaluation. Schedules have
	// minute resolution, so anything well under a minute is enough.
	defaultTickInterval = 30 * time.Second

	// defaultDeferralWindow bounds how late a firing may run. A firing
	// blocked by a dead amplifier link is retried every tick inside
	// this window, then recorded as failed. The same window bounds
	// catch-up after a process restart.
	defaultDeferralWindow = 10 * time.Minute
)

// Scheduler evaluates schedules on a fixed tick and fires due ones
// through the Executor.
//
// Due detection uses a half-open window: an occurrence fires when it
// falls in (lastEvaluated, now] and is newer than the schedule's
// persisted last-run. The last-run timestamp is written BEFORE
// dispatch, so a crash mid-firing loses that firing rather than
// repeating it.
//
// When the amplifier link is down at the due time the firing is parked
// in the deferral map and retried every tick; once the deferral window
// expires the run is recorded as failed. Last-run has already advanced,
// so a deferral never double-fires.
type Scheduler struct {
	registry *Registry
	repo     Repository
	executor *Executor
	loc      *time.Location

	tickInterval   time.Duration
	deferralWindow time.Duration

	// lastEvaluated is the right edge of the previous tick's window.
	// Owned by the run goroutine after Start.
	lastEvaluated time.Time

	// deferred maps schedule ID → the parked run waiting for the device
	// to come back. The run record keeps its ID across retries and is
	// updated in place, so one firing never leaves more than one run
	// row. Guarded by deferredMu: the tick loop parks due firings and
	// RunNow parks manual ones.
	deferredMu sync.Mutex
	deferred   map[string]*Run

	// onFired is invoked after a firing resolves (completed, partial or
	// failed). Deferred firings notify once, when they leave the parked
	// state. Runs on the tick goroutine and must not block.
	onFired func(sched *Schedule, run *Run)

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup

	logger Logger
}

// NewScheduler creates a scheduler.
//
// Parameters:
//   - registry: cached schedule store (also used for last-run updates)
//   - repo: run record persistence
//   - executor: dispatches due schedules to the amplifier
//   - loc: timezone for recurring wall-clock schedules (nil = UTC)
func NewScheduler(registry *Registry, repo Repository, executor *Executor, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		registry:       registry,
		repo:           repo,
		executor:       executor,
		loc:            loc,
		tickInterval:   defaultTickInterval,
		deferralWindow: defaultDeferralWindow,
		deferred:       make(map[string]*Run),
		done:           make(chan struct{}),
		logger:         noopLogger{},
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// SetTickInterval overrides the evaluation tick. Must be called before
// Start.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	if d > 0 {
		s.tickInterval = d
	}
}

// SetDeferralWindow overrides the deferral window. Must be called
// before Start.
func (s *Scheduler) SetDeferralWindow(d time.Duration) {
	if d > 0 {
		s.deferralWindow = d
	}
}

// SetOnFired registers a callback for resolved firings. Must be called
// before Start.
func (s *Scheduler) SetOnFired(fn func(sched *Schedule, run *Run)) {
	s.onFired = fn
}

// notifyFired fires the resolved-firing callback when one is set.
func (s *Scheduler) notifyFired(sched *Schedule, run *Run) {
	if s.onFired != nil {
		s.onFired(sched, run)
	}
}

// Start launches the tick loop. The evaluation window opens one
// deferral window in the past so firings missed across a short restart
// still run (guarded against double-firing by the persisted last-run).
func (s *Scheduler) Start(ctx context.Context) {
	s.lastEvaluated = time.Now().Add(-s.deferralWindow)
	s.wg.Add(1)
	go s.run(ctx)
}

// Close stops the scheduler and waits for the tick loop to exit.
// Safe to call multiple times.
func (s *Scheduler) Close() error {
	s.doneOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	return nil
}

// RunNow fires a schedule immediately, outside its time spec. The
// last-run timestamp is not touched, so the next scheduled firing is
// unaffected.
//
// When the amplifier link is down the firing is parked like a scheduled
// one: the returned run is in deferred status and the tick loop retries
// it until the link returns or the deferral window expires.
//
// Returns:
//   - *Run: the persisted run record
//   - error: ErrScheduleNotFound, ErrScheduleDisabled, or an execution
//     error (the run record is persisted regardless)
func (s *Scheduler) RunNow(ctx context.Context, id string) (*Run, error) {
	sched, err := s.registry.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sched.Enabled {
		return nil, ErrScheduleDisabled
	}

	run := s.newRun(sched.ID, time.Now().UTC(), TriggerManual)
	if createErr := s.repo.CreateRun(ctx, run); createErr != nil {
		s.logger.Error("failed to create run record", "error", createErr)
	}

	execErr := s.executor.Execute(ctx, sched, run)
	if execErr != nil && errors.Is(execErr, ErrDeviceUnavailable) && s.park(ctx, sched.ID, run) {
		// The tick loop owns the parked run from here; hand the caller
		// a snapshot.
		parked := *run
		return &parked, execErr
	}

	s.persistRun(ctx, run)
	s.notifyFired(sched, run)

	s.logger.Info("manual run complete",
		"schedule_id", sched.ID,
		"run_id", run.ID,
		"status", run.Status,
	)
	return run, execErr
}

// run is the tick loop.
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick evaluates one window: retries deferred firings, then fires newly
// due schedules.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.retryDeferred(ctx, now)

	schedules, err := s.registry.ListSchedules(ctx)
	if err != nil {
		s.logger.Error("listing schedules for tick", "error", err)
		return
	}

	for i := range schedules {
		sched := &schedules[i]
		if !sched.Enabled {
			continue
		}
		if s.isDeferred(sched.ID) {
			continue // already parked; retryDeferred owns it
		}

		occ, due := dueOccurrence(sched, s.lastEvaluated, now, s.loc)
		if !due {
			continue
		}
		s.fire(ctx, sched, occ, TriggerScheduled)
	}

	s.lastEvaluated = now
}

// fire runs one due occurrence: persist last-run, then dispatch.
func (s *Scheduler) fire(ctx context.Context, sched *Schedule, occ time.Time, trigger TriggerType) {
	if err := s.registry.markRun(ctx, sched.ID, occ); err != nil {
		// Without the persisted guard a crash could double-fire, so the
		// firing is skipped; it will be re-detected next tick.
		s.logger.Error("persisting last-run failed, skipping firing",
			"schedule_id", sched.ID, "error", err)
		return
	}

	run := s.newRun(sched.ID, occ, trigger)
	if err := s.repo.CreateRun(ctx, run); err != nil {
		s.logger.Error("failed to create run record", "error", err)
	}

	execErr := s.executor.Execute(ctx, sched, run)
	if execErr != nil && errors.Is(execErr, ErrDeviceUnavailable) && s.park(ctx, sched.ID, run) {
		return
	}

	s.persistRun(ctx, run)
	s.finishOneShot(ctx, sched)
	s.notifyFired(sched, run)

	s.logger.Info("schedule fired",
		"schedule_id", sched.ID,
		"name", sched.Name,
		"run_id", run.ID,
		"status", run.Status,
		"trigger", trigger,
	)
}

// park parks a firing whose device was unreachable. Reports false when
// another firing is already parked for the schedule; the caller then
// resolves its run as usual. The parked run keeps its ID so retries
// update the same row.
func (s *Scheduler) park(ctx context.Context, scheduleID string, run *Run) bool {
	s.deferredMu.Lock()
	if _, exists := s.deferred[scheduleID]; exists {
		s.deferredMu.Unlock()
		return false
	}
	run.Status = RunDeferred
	s.deferred[scheduleID] = run
	s.deferredMu.Unlock()

	s.persistRun(ctx, run)
	s.logger.Warn("firing deferred, device unavailable",
		"schedule_id", scheduleID,
		"run_id", run.ID,
		"occurred_at", run.OccurredAt.Format(time.RFC3339),
	)
	return true
}

// isDeferred reports whether a firing is parked for the schedule.
func (s *Scheduler) isDeferred(id string) bool {
	s.deferredMu.Lock()
	defer s.deferredMu.Unlock()
	_, ok := s.deferred[id]
	return ok
}

// unpark removes a schedule's parked run.
func (s *Scheduler) unpark(id string) {
	s.deferredMu.Lock()
	delete(s.deferred, id)
	s.deferredMu.Unlock()
}

// retryDeferred re-attempts parked firings and expires those outside
// the deferral window. Each retry reuses the parked run record, so a
// deferred firing resolves into exactly one run row.
func (s *Scheduler) retryDeferred(ctx context.Context, now time.Time) {
	s.deferredMu.Lock()
	parked := make(map[string]*Run, len(s.deferred))
	for id, run := range s.deferred {
		parked[id] = run
	}
	s.deferredMu.Unlock()

	for id, run := range parked {
		sched, err := s.registry.GetSchedule(ctx, id)
		if err != nil {
			// Deleted while deferred; drop it.
			s.unpark(id)
			continue
		}

		run.Trigger = TriggerDeferred

		if now.Sub(run.OccurredAt) > s.deferralWindow {
			s.unpark(id)
			resetOutcome(run)
			run.Status = RunFailed
			run.Failures = []ZoneFailure{{ErrorMsg: fmt.Sprintf("deferral window expired after %s", s.deferralWindow)}}
			s.persistRun(ctx, run)
			s.finishOneShot(ctx, sched)
			s.notifyFired(sched, run)
			s.logger.Warn("deferred firing expired",
				"schedule_id", id,
				"occurred_at", run.OccurredAt.Format(time.RFC3339),
			)
			continue
		}

		resetOutcome(run)
		execErr := s.executor.Execute(ctx, sched, run)
		if execErr != nil && errors.Is(execErr, ErrDeviceUnavailable) {
			run.Status = RunDeferred // still down; retry next tick
			continue
		}

		s.unpark(id)
		s.persistRun(ctx, run)
		s.finishOneShot(ctx, sched)
		s.notifyFired(sched, run)

		s.logger.Info("deferred firing completed",
			"schedule_id", id,
			"run_id", run.ID,
			"status", run.Status,
		)
	}
}

// resetOutcome clears a run's outcome fields before a retry attempt.
func resetOutcome(run *Run) {
	run.Status = RunPending
	run.ZonesTotal = 0
	run.ZonesCompleted = 0
	run.ZonesFailed = 0
	run.Failures = nil
	run.CompletedAt = nil
	run.DurationMS = nil
}

// finishOneShot disables a one-shot schedule after its firing resolved.
func (s *Scheduler) finishOneShot(ctx context.Context, sched *Schedule) {
	if !sched.Time.OneShot() {
		return
	}
	if err := s.registry.SetEnabled(ctx, sched.ID, false); err != nil {
		s.logger.Error("disabling one-shot schedule", "schedule_id", sched.ID, "error", err)
	}
}

// newRun builds a pending run record.
func (s *Scheduler) newRun(scheduleID string, occ time.Time, trigger TriggerType) *Run {
	return &Run{
		ID:         GenerateID(),
		ScheduleID: scheduleID,
		OccurredAt: occ.UTC(),
		Trigger:    trigger,
		Status:     RunPending,
	}
}

// persistRun updates a run record, logging rather than failing the
// firing on persistence errors.
func (s *Scheduler) persistRun(ctx context.Context, run *Run) {
	if err := s.repo.UpdateRun(ctx, run); err != nil {
		s.logger.Error("failed to update run record", "run_id", run.ID, "error", err)
	}
}

// ─── Due Detection ──────────────────────────────────────────────────────────

// dueOccurrence reports whether a schedule has an occurrence in the
// half-open window (last, now], returning the occurrence time. The
// persisted last-run guards re-detection: an occurrence at or before
// LastRunAt never fires again.
func dueOccurrence(sched *Schedule, last, now time.Time, loc *time.Location) (time.Time, bool) {
	occ, ok := latestOccurrence(sched.Time, now, loc)
	if !ok {
		return time.Time{}, false
	}
	if !occ.After(last) || occ.After(now) {
		return time.Time{}, false
	}
	if sched.LastRunAt != nil && !occ.After(*sched.LastRunAt) {
		return time.Time{}, false
	}
	return occ, true
}

// latestOccurrence returns the most recent occurrence of the spec at or
// before now. When a window spans several matching days only the latest
// occurrence is reported; older missed firings stay missed.
func latestOccurrence(spec TimeSpec, now time.Time, loc *time.Location) (time.Time, bool) {
	if spec.OneShot() {
		at := *spec.At
		if at.After(now) {
			return time.Time{}, false
		}
		return at, true
	}

	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), spec.Hour, spec.Minute, 0, 0, loc)
	if day.After(now) {
		day = day.AddDate(0, 0, -1)
	}
	for i := 0; i < 7; i++ {
		if spec.matchesWeekday(day.Weekday()) {
			return day, true
		}
		day = day.AddDate(0, 0, -1)
	}
	return time.Time{}, false
}
