// Package automation provides scheduled control of amplifier zones.
//
// Schedules are named, persisted rules that fire an action against one
// or more zones: recurring rules fire on a weekly weekday pattern at a
// wall-clock time in the configured timezone, one-shot rules fire once
// at an absolute instant.
//
// Architecture:
//
//	┌───────────────────────────────────────────────────────┐
//	│               Scheduler (scheduler.go)                │
//	│  Tick loop · due detection · deferral · run logging   │
//	│  ┌──────────────┐    ┌──────────────┐                 │
//	│  │   Registry   │───▶│  Repository  │                 │
//	│  │(registry.go) │    │(repository.go)│                │
//	│  └──────────────┘    └──────────────┘                 │
//	│        │                                              │
//	│        ▼                                              │
//	│  ┌──────────────────────────────────────────────┐     │
//	│  │  Firing Pipeline                             │     │
//	│  │  1. Detect due occurrence (half-open window) │     │
//	│  │  2. Persist last-run BEFORE dispatch         │     │
//	│  │  3. Executor expands target → zone commands  │     │
//	│  │  4. Sequential dispatch, partial success     │     │
//	│  │  5. Log run record                           │     │
//	│  └──────────────────────────────────────────────┘     │
//	└───────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Schedule: Persisted firing rule (time spec, target zones, action)
//   - Run: Audit record of a single firing
//   - Scheduler: Tick-driven evaluator with deferral handling
//   - Executor: Expands a schedule into per-zone amplifier commands
//   - Registry: Thread-safe in-memory cache wrapping Repository
//
// # Firing Semantics
//
// A schedule fires when an occurrence falls inside the half-open window
// (lastEvaluated, now] and has not already been recorded as run. The
// last-run timestamp is persisted before dispatch: a crash between
// persist and dispatch loses at most one firing and never doubles one.
// If the amplifier link is down at the due time, the firing is deferred
// and retried every tick until the deferral window expires, after which
// the run is recorded as failed.
//
// # Thread Safety
//
// Registry and Scheduler are safe for concurrent use from multiple
// goroutines. All public methods use appropriate synchronisation.
//
// # Usage
//
//	repo := automation.NewSQLiteRepository(db)
//	registry := automation.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	exec := automation.NewExecutor(sender, presets, cache)
//	sched := automation.NewScheduler(registry, repo, exec, loc)
//	sched.Start(ctx)
package automation
