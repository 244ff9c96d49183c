package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry, Scheduler
// and Executor. This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards everything; the default until SetLogger runs.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides schedule management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups —
// the scheduler evaluates every schedule on every tick, which must not
// hit the database.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations. Persistence happens first: a
// schedule is never in the cache without being on disk.
//
// Every public method is safe for concurrent use.
type Registry struct {
	repo    Repository
	cache   map[string]*Schedule // Cached schedules by ID
	cacheMu sync.RWMutex         // Protects cache
	logger  Logger
}

// NewRegistry creates a new schedule registry.
// Persistence goes through repo; the registry layers the tick cache on top.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Schedule),
		logger: noopLogger{},
	}
}

// SetLogger routes registry events to the given logger.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all schedules from the repository into the cache.
// Called once at startup before the scheduler begins ticking.
func (r *Registry) RefreshCache(ctx context.Context) error {
	schedules, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Rebuild from scratch with deep copies
	r.cache = make(map[string]*Schedule, len(schedules))
	for i := range schedules {
		s := schedules[i]
		r.cache[s.ID] = s.DeepCopy()
	}

	r.logger.Info("schedule cache refreshed", "count", len(schedules))
	return nil
}

// GetSchedule retrieves a schedule by ID.
// The returned schedule is a deep copy; callers can safely modify it.
func (r *Registry) GetSchedule(_ context.Context, id string) (*Schedule, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrScheduleNotFound
}

// ListSchedules retrieves all schedules from the cache.
// Returns deep copies sorted by name then ID for deterministic ordering.
func (r *Registry) ListSchedules(_ context.Context) ([]Schedule, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	schedules := make([]Schedule, 0, len(r.cache))
	for _, s := range r.cache {
		schedules = append(schedules, *s.DeepCopy())
	}
	sortSchedules(schedules)
	return schedules, nil
}

// sortSchedules sorts schedules by name then ID, matching the DB query ordering.
func sortSchedules(schedules []Schedule) {
	sort.Slice(schedules, func(i, j int) bool {
		if schedules[i].Name != schedules[j].Name {
			return schedules[i].Name < schedules[j].Name
		}
		return schedules[i].ID < schedules[j].ID
	})
}

// CreateSchedule validates, persists, and caches a new schedule.
func (r *Registry) CreateSchedule(ctx context.Context, sched *Schedule) error {
	if sched.ID == "" {
		sched.ID = GenerateID()
	}

	if err := ValidateSchedule(sched); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, sched); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[sched.ID] = sched.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("schedule created", "id", sched.ID, "name", sched.Name)
	return nil
}

// UpdateSchedule validates, persists, and updates the cached schedule.
func (r *Registry) UpdateSchedule(ctx context.Context, sched *Schedule) error {
	if err := ValidateSchedule(sched); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, sched); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[sched.ID] = sched.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("schedule updated", "id", sched.ID, "name", sched.Name)
	return nil
}

// DeleteSchedule removes a schedule from persistence and cache.
func (r *Registry) DeleteSchedule(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("schedule deleted", "id", id)
	return nil
}

// markRun persists the last-run occurrence and updates the cached copy.
// Persistence happens first so a crash can only lose the firing, never
// repeat it with a stale cache.
func (r *Registry) markRun(ctx context.Context, id string, occurredAt time.Time) error {
	if err := r.repo.MarkRun(ctx, id, occurredAt); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if s, ok := r.cache[id]; ok {
		t := occurredAt
		s.LastRunAt = &t
	}
	r.cacheMu.Unlock()
	return nil
}

// SetEnabled persists the enabled flag and updates the cached copy.
// Used for enable/disable toggles and one-shot auto-disable.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) error {
	if err := r.repo.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if s, ok := r.cache[id]; ok {
		s.Enabled = enabled
	}
	r.cacheMu.Unlock()
	return nil
}

// ScheduleCount returns the number of cached schedules.
func (r *Registry) ScheduleCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
