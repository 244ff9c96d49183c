package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/twolfekc/monozone-pi/internal/bridges/monoprice"
	"github.com/twolfekc/monozone-pi/internal/zone"
)

// CommandSender is the amplifier-facing interface the executor needs.
// *monoprice.Client satisfies it.
type CommandSender interface {
	// Set sends one attribute write and blocks until confirmed.
	Set(ctx context.Context, zoneID int, attr zone.Attribute, value int) error
}

// PresetApplier applies a stored preset to zones. The preset service
// satisfies it; kept as an interface so scheduler tests need no preset
// machinery.
type PresetApplier interface {
	Apply(ctx context.Context, presetID string) error
}

// ZoneLister resolves the all_zones target. *zone.Cache satisfies it.
type ZoneLister interface {
	ZoneIDs() []int
}

// maxRunTime is the hard limit for a single schedule firing. Six zones
// at a few commands each complete in well under a second on a healthy
// link; this bounds a firing against a wedged connection.
const maxRunTime = 60 * time.Second

// Executor expands a schedule's target into per-zone amplifier commands
// and dispatches them sequentially.
//
// Partial success is the model: one zone failing does not abort the
// rest. The exceptions are connection-level failures — when the link is
// down every remaining zone would fail identically, so the executor
// short-circuits.
//
// Thread Safety: Execute is safe for concurrent use, though callers
// (scheduler, manual trigger) naturally serialise through the bridge's
// command queue anyway.
type Executor struct {
	sender  CommandSender
	presets PresetApplier
	zones   ZoneLister
	logger  Logger
}

// NewExecutor creates a schedule executor.
//
// Parameters:
//   - sender: amplifier command interface
//   - presets: preset application service (may be nil; apply_preset
//     actions then fail with ErrInvalidAction)
//   - zones: resolves the all_zones target
func NewExecutor(sender CommandSender, presets PresetApplier, zones ZoneLister) *Executor {
	return &Executor{
		sender:  sender,
		presets: presets,
		zones:   zones,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the executor.
func (e *Executor) SetLogger(logger Logger) {
	e.logger = logger
}

// Execute fires a schedule's action against its resolved zones and
// fills in the run record's outcome fields.
//
// Returns:
//   - error: nil when at least one zone succeeded (run.Status is then
//     completed or partial), ErrDeviceUnavailable when the link was down
//     before any zone succeeded (the caller may defer and retry), or
//     another error when every zone failed for non-connection reasons.
func (e *Executor) Execute(ctx context.Context, sched *Schedule, run *Run) error {
	ctx, cancel := context.WithTimeout(ctx, maxRunTime)
	defer cancel()

	started := time.Now().UTC()
	run.StartedAt = &started

	// apply_preset delegates whole-preset application; the preset
	// carries its own zone snapshots so the target is ignored.
	if sched.Action.Type == ActionApplyPreset {
		err := e.executePreset(ctx, sched, run)
		e.finishRun(run, started)
		return err
	}

	zoneIDs := e.resolveTarget(sched.Target)
	run.ZonesTotal = len(zoneIDs)

	attr, value, err := actionCommand(sched.Action)
	if err != nil {
		run.ZonesFailed = len(zoneIDs)
		run.Failures = []ZoneFailure{{ErrorMsg: err.Error()}}
		e.finishRun(run, started)
		return err
	}

	for i, id := range zoneIDs {
		sendErr := e.sender.Set(ctx, id, attr, value)
		if sendErr == nil {
			run.ZonesCompleted++
			continue
		}

		run.ZonesFailed++
		run.Failures = append(run.Failures, ZoneFailure{ZoneID: id, ErrorMsg: sendErr.Error()})

		if monoprice.IsConnectionErr(sendErr) {
			// Remaining zones would fail the same way.
			skipped := zoneIDs[i+1:]
			run.ZonesFailed += len(skipped)
			for _, sid := range skipped {
				run.Failures = append(run.Failures, ZoneFailure{ZoneID: sid, ErrorMsg: "skipped: connection lost"})
			}
			e.finishRun(run, started)
			if run.ZonesCompleted == 0 {
				return fmt.Errorf("%w: %v", ErrDeviceUnavailable, sendErr)
			}
			return nil
		}
	}

	e.finishRun(run, started)

	if run.ZonesCompleted == 0 && run.ZonesTotal > 0 {
		return fmt.Errorf("all zones failed: %s", run.Failures[0].ErrorMsg)
	}
	return nil
}

// executePreset runs an apply_preset action.
func (e *Executor) executePreset(ctx context.Context, sched *Schedule, run *Run) error {
	run.ZonesTotal = 1 // preset application is all-or-nothing from here
	if e.presets == nil || sched.Action.PresetID == nil {
		run.ZonesFailed = 1
		run.Failures = []ZoneFailure{{ErrorMsg: "preset support not configured"}}
		return fmt.Errorf("%w: preset support not configured", ErrInvalidAction)
	}

	if err := e.presets.Apply(ctx, *sched.Action.PresetID); err != nil {
		run.ZonesFailed = 1
		run.Failures = []ZoneFailure{{ErrorMsg: err.Error()}}
		if monoprice.IsConnectionErr(err) {
			return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return err
	}
	run.ZonesCompleted = 1
	return nil
}

// resolveTarget expands a target into concrete zone IDs.
func (e *Executor) resolveTarget(t Target) []int {
	if t.Type == TargetAllZones {
		return e.zones.ZoneIDs()
	}
	ids := make([]int, len(t.ZoneIDs))
	copy(ids, t.ZoneIDs)
	return ids
}

// finishRun stamps completion time, duration and final status.
func (e *Executor) finishRun(run *Run, started time.Time) {
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	duration := int(completed.Sub(started).Milliseconds())
	run.DurationMS = &duration

	switch {
	case run.ZonesFailed == 0:
		run.Status = RunCompleted
	case run.ZonesCompleted > 0:
		run.Status = RunPartial
	default:
		run.Status = RunFailed
	}
}

// actionCommand maps an action to the attribute write it performs on
// each zone.
func actionCommand(a Action) (zone.Attribute, int, error) {
	switch a.Type {
	case ActionPowerOn:
		return zone.AttrPower, 1, nil
	case ActionPowerOff:
		return zone.AttrPower, 0, nil
	case ActionMuteOn:
		return zone.AttrMute, 1, nil
	case ActionMuteOff:
		return zone.AttrMute, 0, nil
	case ActionSetVolume:
		if a.Volume == nil {
			return "", 0, fmt.Errorf("%w: set_volume requires volume", ErrInvalidAction)
		}
		return zone.AttrVolume, *a.Volume, nil
	case ActionSetSource:
		if a.Source == nil {
			return "", 0, fmt.Errorf("%w: set_source requires source", ErrInvalidAction)
		}
		return zone.AttrSource, *a.Source, nil
	default:
		return "", 0, fmt.Errorf("%w: unknown action type %q", ErrInvalidAction, a.Type)
	}
}
