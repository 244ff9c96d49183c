package automation

import "time"

// Schedule is a persisted rule that fires an action against one or more
// zones. Recurring schedules carry a weekday/time pattern; one-shot
// schedules carry an absolute instant and disable themselves after
// firing.
type Schedule struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Configuration
	Enabled bool `json:"enabled"`

	// When to fire
	Time TimeSpec `json:"time"`

	// Which zones to affect
	Target Target `json:"target"`

	// What to do
	Action Action `json:"action"`

	// LastRunAt is the occurrence time of the most recent firing,
	// persisted BEFORE dispatch. It is the double-fire guard.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TimeSpec describes when a schedule fires.
//
// Exactly one form is used: when At is set the schedule is one-shot;
// otherwise it is recurring on Weekdays at Hour:Minute in the
// scheduler's timezone. Empty Weekdays means every day.
type TimeSpec struct {
	// Recurring form
	Weekdays []time.Weekday `json:"weekdays,omitempty"`
	Hour     int            `json:"hour"`
	Minute   int            `json:"minute"`

	// One-shot form
	At *time.Time `json:"at,omitempty"`
}

// OneShot reports whether the spec is a one-shot firing.
func (t TimeSpec) OneShot() bool {
	return t.At != nil
}

// matchesWeekday reports whether a recurring spec fires on the given
// weekday. Empty Weekdays means every day.
func (t TimeSpec) matchesWeekday(d time.Weekday) bool {
	if len(t.Weekdays) == 0 {
		return true
	}
	for _, wd := range t.Weekdays {
		if wd == d {
			return true
		}
	}
	return false
}

// TargetType selects how a schedule's zones are resolved.
type TargetType string

const (
	// TargetAllZones targets every configured zone.
	TargetAllZones TargetType = "all_zones"

	// TargetZones targets an explicit zone list.
	TargetZones TargetType = "zones"
)

// Target describes which zones a schedule affects.
type Target struct {
	Type    TargetType `json:"type"`
	ZoneIDs []int      `json:"zone_ids,omitempty"`
}

// ActionType identifies what a schedule does to its target zones.
type ActionType string

const (
	ActionPowerOn     ActionType = "power_on"
	ActionPowerOff    ActionType = "power_off"
	ActionSetVolume   ActionType = "set_volume"
	ActionSetSource   ActionType = "set_source"
	ActionMuteOn      ActionType = "mute_on"
	ActionMuteOff     ActionType = "mute_off"
	ActionApplyPreset ActionType = "apply_preset"
)

// AllActionTypes returns all valid action types.
func AllActionTypes() []ActionType {
	return []ActionType{
		ActionPowerOn,
		ActionPowerOff,
		ActionSetVolume,
		ActionSetSource,
		ActionMuteOn,
		ActionMuteOff,
		ActionApplyPreset,
	}
}

// Action is the command a schedule sends to each target zone. Exactly
// one parameter field is used, matching the action type.
type Action struct {
	Type ActionType `json:"type"`

	// Volume for set_volume (0-38)
	Volume *int `json:"volume,omitempty"`

	// Source for set_source (1-6)
	Source *int `json:"source,omitempty"`

	// PresetID for apply_preset
	PresetID *string `json:"preset_id,omitempty"`
}

// Run tracks a single firing of a schedule.
type Run struct {
	ID          string      `json:"id"`
	ScheduleID  string      `json:"schedule_id"`
	OccurredAt  time.Time   `json:"occurred_at"` // due occurrence, not dispatch time
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Trigger     TriggerType `json:"trigger"`
	Status      RunStatus   `json:"status"`

	// Zone counts
	ZonesTotal     int `json:"zones_total"`
	ZonesCompleted int `json:"zones_completed"`
	ZonesFailed    int `json:"zones_failed"`

	// Failure details (populated when zones fail)
	Failures []ZoneFailure `json:"failures,omitempty"`

	// Total execution duration in milliseconds
	DurationMS *int `json:"duration_ms,omitempty"`
}

// ZoneFailure records details of a failed zone within a run.
type ZoneFailure struct {
	ZoneID   int    `json:"zone_id"`
	ErrorMsg string `json:"error_message"`
}

// TriggerType records how a run was initiated.
type TriggerType string

const (
	TriggerScheduled TriggerType = "scheduled"
	TriggerDeferred  TriggerType = "deferred" // retried after the device came back
	TriggerManual    TriggerType = "manual"   // RunNow
)

// RunStatus represents the state of a run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunDeferred  RunStatus = "deferred" // waiting for the device to come back
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial" // some zones failed
	RunFailed    RunStatus = "failed"
)

// DeepCopy creates a complete independent copy of the Schedule.
// All pointer and slice fields are cloned so modifications to the copy
// do not affect the original. This is essential for cache isolation.
func (s *Schedule) DeepCopy() *Schedule {
	if s == nil {
		return nil
	}

	cpy := *s // Shallow copy of value fields

	cpy.LastRunAt = cloneTimePtr(s.LastRunAt)
	cpy.Time.At = cloneTimePtr(s.Time.At)
	if s.Time.Weekdays != nil {
		cpy.Time.Weekdays = make([]time.Weekday, len(s.Time.Weekdays))
		copy(cpy.Time.Weekdays, s.Time.Weekdays)
	}
	if s.Target.ZoneIDs != nil {
		cpy.Target.ZoneIDs = make([]int, len(s.Target.ZoneIDs))
		copy(cpy.Target.ZoneIDs, s.Target.ZoneIDs)
	}
	cpy.Action.Volume = cloneIntPtr(s.Action.Volume)
	cpy.Action.Source = cloneIntPtr(s.Action.Source)
	cpy.Action.PresetID = cloneStringPtr(s.Action.PresetID)

	return &cpy
}

// cloneStringPtr creates an independent copy of a *string.
func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// cloneIntPtr creates an independent copy of an *int.
func cloneIntPtr(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

// cloneTimePtr creates an independent copy of a *time.Time.
func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
