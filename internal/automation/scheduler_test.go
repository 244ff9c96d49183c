package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/twolfekc/monozone-pi/internal/zone"
)

// ─── Due Detection Tests ────────────────────────────────────────────────────

func TestLatestOccurrence(t *testing.T) {
	// 2026-08-26 is a Wednesday.
	wednesday := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		spec   TimeSpec
		now    time.Time
		want   time.Time
		wantOK bool
	}{
		{
			name:   "daily, occurrence earlier today",
			spec:   TimeSpec{Hour: 7, Minute: 30},
			now:    wednesday.Add(8 * time.Hour),
			want:   wednesday.Add(7*time.Hour + 30*time.Minute),
			wantOK: true,
		},
		{
			name:   "daily, occurrence still ahead today",
			spec:   TimeSpec{Hour: 7, Minute: 30},
			now:    wednesday.Add(7 * time.Hour),
			want:   wednesday.AddDate(0, 0, -1).Add(7*time.Hour + 30*time.Minute),
			wantOK: true,
		},
		{
			name:   "daily, exactly at occurrence",
			spec:   TimeSpec{Hour: 7, Minute: 30},
			now:    wednesday.Add(7*time.Hour + 30*time.Minute),
			want:   wednesday.Add(7*time.Hour + 30*time.Minute),
			wantOK: true,
		},
		{
			name:   "monday only, evaluated wednesday",
			spec:   TimeSpec{Weekdays: []time.Weekday{time.Monday}, Hour: 7, Minute: 30},
			now:    wednesday.Add(12 * time.Hour),
			want:   wednesday.AddDate(0, 0, -2).Add(7*time.Hour + 30*time.Minute),
			wantOK: true,
		},
		{
			name:   "one-shot in the past",
			spec:   TimeSpec{At: timePtr(wednesday.Add(6 * time.Hour))},
			now:    wednesday.Add(8 * time.Hour),
			want:   wednesday.Add(6 * time.Hour),
			wantOK: true,
		},
		{
			name:   "one-shot in the future",
			spec:   TimeSpec{At: timePtr(wednesday.Add(10 * time.Hour))},
			now:    wednesday.Add(8 * time.Hour),
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := latestOccurrence(tt.spec, tt.now, time.UTC)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("occurrence = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDueOccurrence(t *testing.T) {
	wednesday := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)
	occ := wednesday.Add(7*time.Hour + 30*time.Minute)

	base := func() *Schedule {
		s := testSchedule("sched-due", "Due Check")
		s.Time = TimeSpec{Hour: 7, Minute: 30}
		return s
	}

	tests := []struct {
		name    string
		sched   *Schedule
		last    time.Time
		now     time.Time
		wantDue bool
	}{
		{
			name:    "occurrence inside window",
			sched:   base(),
			last:    occ.Add(-time.Minute),
			now:     occ.Add(time.Minute),
			wantDue: true,
		},
		{
			name:    "window right edge inclusive",
			sched:   base(),
			last:    occ.Add(-time.Minute),
			now:     occ,
			wantDue: true,
		},
		{
			name:    "window left edge exclusive",
			sched:   base(),
			last:    occ,
			now:     occ.Add(time.Minute),
			wantDue: false,
		},
		{
			name: "guarded by persisted last-run",
			sched: func() *Schedule {
				s := base()
				s.LastRunAt = timePtr(occ)
				return s
			}(),
			last:    occ.Add(-time.Minute),
			now:     occ.Add(time.Minute),
			wantDue: false,
		},
		{
			name: "older last-run does not block",
			sched: func() *Schedule {
				s := base()
				s.LastRunAt = timePtr(occ.AddDate(0, 0, -1))
				return s
			}(),
			last:    occ.Add(-time.Minute),
			now:     occ.Add(time.Minute),
			wantDue: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, due := dueOccurrence(tt.sched, tt.last, tt.now, time.UTC)
			if due != tt.wantDue {
				t.Fatalf("due = %v, want %v", due, tt.wantDue)
			}
			if due && !got.Equal(occ) {
				t.Errorf("occurrence = %v, want %v", got, occ)
			}
		})
	}
}

// ─── Tick Loop Tests ────────────────────────────────────────────────────────

// flakySender is a CommandSender whose failure mode can be flipped while
// the scheduler goroutine is running.
type flakySender struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *flakySender) Set(context.Context, int, zone.Attribute, int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *flakySender) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *flakySender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type schedulerFixture struct {
	registry *Registry
	repo     *SQLiteRepository
	sender   *flakySender
	sched    *Scheduler
}

func setupScheduler(t *testing.T) *schedulerFixture {
	t.Helper()

	db := setupTestDB(t)
	// The in-memory database exists per connection; the scheduler
	// goroutine and the test must share one.
	db.SetMaxOpenConns(1)

	repo := NewSQLiteRepository(db)
	registry := NewRegistry(repo)
	if err := registry.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}

	sender := &flakySender{}
	executor := NewExecutor(sender, nil, &mockZones{ids: []int{1, 2, 3}})
	sched := NewScheduler(registry, repo, executor, time.UTC)
	sched.SetTickInterval(20 * time.Millisecond)

	return &schedulerFixture{registry: registry, repo: repo, sender: sender, sched: sched}
}

func waitForRun(t *testing.T, repo *SQLiteRepository, scheduleID string, cond func(Run) bool) Run {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		runs, err := repo.ListRuns(context.Background(), scheduleID, 10)
		if err != nil {
			t.Fatalf("ListRuns: %v", err)
		}
		for _, run := range runs {
			if cond(run) {
				return run
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for run record")
	return Run{}
}

func TestScheduler_FiresDueSchedule(t *testing.T) {
	fx := setupScheduler(t)
	ctx := context.Background()

	// Due two minutes ago: inside the catch-up window Start opens.
	due := time.Now().UTC().Add(-2 * time.Minute)
	sched := testSchedule("sched-fire", "Recent Firing")
	sched.Time = TimeSpec{Hour: due.Hour(), Minute: due.Minute()}
	if err := fx.registry.CreateSchedule(ctx, sched); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	fx.sched.Start(ctx)
	t.Cleanup(func() { fx.sched.Close() })

	run := waitForRun(t, fx.repo, "sched-fire", func(r Run) bool {
		return r.Status == RunCompleted
	})

	if run.Trigger != TriggerScheduled {
		t.Errorf("Trigger = %s, want scheduled", run.Trigger)
	}
	if run.ZonesTotal != 2 || run.ZonesCompleted != 2 {
		t.Errorf("counts = %d/%d", run.ZonesTotal, run.ZonesCompleted)
	}

	// Last-run persisted with the occurrence time, not dispatch time.
	got, err := fx.registry.GetSchedule(ctx, "sched-fire")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.LastRunAt == nil {
		t.Fatal("LastRunAt not persisted")
	}
	if got.LastRunAt.Minute() != due.Minute() {
		t.Errorf("LastRunAt = %v, want occurrence at %02d:%02d", got.LastRunAt, due.Hour(), due.Minute())
	}

	// One run only: the persisted last-run blocks re-detection.
	time.Sleep(100 * time.Millisecond)
	runs, _ := fx.repo.ListRuns(ctx, "sched-fire", 10)
	if len(runs) != 1 {
		t.Errorf("got %d runs, want 1 (double-fired)", len(runs))
	}
}

func TestScheduler_SkipsDisabled(t *testing.T) {
	fx := setupScheduler(t)
	ctx := context.Background()

	due := time.Now().UTC().Add(-2 * time.Minute)
	sched := testSchedule("sched-off", "Disabled")
	sched.Enabled = false
	sched.Time = TimeSpec{Hour: due.Hour(), Minute: due.Minute()}
	if err := fx.registry.CreateSchedule(ctx, sched); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	fx.sched.Start(ctx)
	t.Cleanup(func() { fx.sched.Close() })

	time.Sleep(100 * time.Millisecond)
	runs, _ := fx.repo.ListRuns(ctx, "sched-off", 10)
	if len(runs) != 0 {
		t.Errorf("disabled schedule fired: %d runs", len(runs))
	}
}

func TestScheduler_DefersAndRecovers(t *testing.T) {
	fx := setupScheduler(t)
	ctx := context.Background()

	fx.sender.setErr(connectionErr())

	due := time.Now().UTC().Add(-2 * time.Minute)
	sched := testSchedule("sched-defer", "Deferred")
	sched.Time = TimeSpec{Hour: due.Hour(), Minute: due.Minute()}
	if err := fx.registry.CreateSchedule(ctx, sched); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	fx.sched.Start(ctx)
	t.Cleanup(func() { fx.sched.Close() })

	parked := waitForRun(t, fx.repo, "sched-defer", func(r Run) bool {
		return r.Status == RunDeferred
	})

	// Device comes back; the parked firing completes on a later tick.
	fx.sender.setErr(nil)

	run := waitForRun(t, fx.repo, "sched-defer", func(r Run) bool {
		return r.Status == RunCompleted
	})
	if run.Trigger != TriggerDeferred {
		t.Errorf("Trigger = %s, want deferred", run.Trigger)
	}

	// Retries resolve the parked run record in place: same row, no
	// orphaned deferred duplicate.
	if run.ID != parked.ID {
		t.Errorf("completed run ID = %s, want parked run %s", run.ID, parked.ID)
	}
	runs, err := fx.repo.ListRuns(ctx, "sched-defer", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("got %d runs, want 1", len(runs))
	}
}

func TestScheduler_DeferralWindowExpires(t *testing.T) {
	fx := setupScheduler(t)
	ctx := context.Background()

	fx.sender.setErr(connectionErr())
	fx.sched.SetDeferralWindow(100 * time.Millisecond)

	sched := testSchedule("sched-expire", "Expiring")
	sched.Time = TimeSpec{At: timePtr(time.Now().UTC().Add(-10 * time.Millisecond))}
	if err := fx.registry.CreateSchedule(ctx, sched); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	fx.sched.Start(ctx)
	t.Cleanup(func() { fx.sched.Close() })

	run := waitForRun(t, fx.repo, "sched-expire", func(r Run) bool {
		return r.Status == RunFailed && r.Trigger == TriggerDeferred
	})
	if len(run.Failures) != 1 {
		t.Fatalf("Failures = %+v", run.Failures)
	}

	// One-shot resolves (disabled) even when the firing expired.
	got, _ := fx.registry.GetSchedule(ctx, "sched-expire")
	if got.Enabled {
		t.Error("expired one-shot still enabled")
	}
}

func TestScheduler_OneShotDisablesAfterFiring(t *testing.T) {
	fx := setupScheduler(t)
	ctx := context.Background()

	sched := testSchedule("sched-once", "One Shot")
	sched.Time = TimeSpec{At: timePtr(time.Now().UTC().Add(-10 * time.Millisecond))}
	if err := fx.registry.CreateSchedule(ctx, sched); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	fx.sched.Start(ctx)
	t.Cleanup(func() { fx.sched.Close() })

	waitForRun(t, fx.repo, "sched-once", func(r Run) bool {
		return r.Status == RunCompleted
	})

	got, err := fx.registry.GetSchedule(ctx, "sched-once")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.Enabled {
		t.Error("one-shot still enabled after firing")
	}
}

// ─── RunNow Tests ───────────────────────────────────────────────────────────

func TestScheduler_RunNow(t *testing.T) {
	fx := setupScheduler(t)
	ctx := context.Background()

	sched := testSchedule("sched-manual", "Manual")
	if err := fx.registry.CreateSchedule(ctx, sched); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	run, err := fx.sched.RunNow(ctx, "sched-manual")
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if run.Trigger != TriggerManual || run.Status != RunCompleted {
		t.Errorf("run = %+v", run)
	}
	if fx.sender.callCount() != 2 {
		t.Errorf("sender calls = %d, want 2", fx.sender.callCount())
	}

	// Manual firing leaves the next scheduled firing unaffected.
	got, _ := fx.registry.GetSchedule(ctx, "sched-manual")
	if got.LastRunAt != nil {
		t.Errorf("LastRunAt = %v, want nil after manual run", got.LastRunAt)
	}

	persisted, err := fx.repo.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if persisted.Status != RunCompleted {
		t.Errorf("persisted status = %s", persisted.Status)
	}
}

func TestScheduler_RunNowDisabled(t *testing.T) {
	fx := setupScheduler(t)
	ctx := context.Background()

	sched := testSchedule("sched-manual-off", "Manual Disabled")
	sched.Enabled = false
	if err := fx.registry.CreateSchedule(ctx, sched); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	if _, err := fx.sched.RunNow(ctx, "sched-manual-off"); !errors.Is(err, ErrScheduleDisabled) {
		t.Errorf("RunNow = %v, want ErrScheduleDisabled", err)
	}
}

func TestScheduler_RunNowNotFound(t *testing.T) {
	fx := setupScheduler(t)
	if _, err := fx.sched.RunNow(context.Background(), "no-such"); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("RunNow = %v, want ErrScheduleNotFound", err)
	}
}

func TestScheduler_RunNowDefersWhenDisconnected(t *testing.T) {
	fx := setupScheduler(t)
	ctx := context.Background()

	fx.sender.setErr(connectionErr())

	// Recurring time far from now, so only the manual firing is in play.
	notDue := time.Now().UTC().Add(12 * time.Hour)
	sched := testSchedule("sched-manual-defer", "Manual Deferred")
	sched.Time = TimeSpec{Hour: notDue.Hour(), Minute: notDue.Minute()}
	if err := fx.registry.CreateSchedule(ctx, sched); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	run, err := fx.sched.RunNow(ctx, "sched-manual-defer")
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("RunNow = %v, want ErrDeviceUnavailable", err)
	}
	if run.Status != RunDeferred {
		t.Fatalf("Status = %s, want deferred", run.Status)
	}

	persisted, err := fx.repo.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if persisted.Status != RunDeferred {
		t.Errorf("persisted status = %s, want deferred", persisted.Status)
	}

	// Link returns; the tick loop picks the parked manual firing up.
	fx.sched.Start(ctx)
	t.Cleanup(func() { fx.sched.Close() })
	fx.sender.setErr(nil)

	completed := waitForRun(t, fx.repo, "sched-manual-defer", func(r Run) bool {
		return r.Status == RunCompleted
	})
	if completed.ID != run.ID {
		t.Errorf("completed run ID = %s, want parked run %s", completed.ID, run.ID)
	}
	if completed.Trigger != TriggerDeferred {
		t.Errorf("Trigger = %s, want deferred", completed.Trigger)
	}

	runs, err := fx.repo.ListRuns(ctx, "sched-manual-defer", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("got %d runs, want 1", len(runs))
	}
}

func TestScheduler_OnFiredCallback(t *testing.T) {
	fx := setupScheduler(t)
	ctx := context.Background()

	sched := testSchedule("sched-notify", "Notify")
	if err := fx.registry.CreateSchedule(ctx, sched); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	var mu sync.Mutex
	var fired []*Run
	fx.sched.SetOnFired(func(s *Schedule, r *Run) {
		mu.Lock()
		defer mu.Unlock()
		if s.ID != "sched-notify" {
			t.Errorf("callback schedule = %s", s.ID)
		}
		fired = append(fired, r)
	})

	run, err := fx.sched.RunNow(ctx, "sched-notify")
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 {
		t.Fatalf("callback invoked %d times, want 1", len(fired))
	}
	if fired[0].ID != run.ID || fired[0].Status != RunCompleted {
		t.Errorf("callback run = %+v", fired[0])
	}
}
