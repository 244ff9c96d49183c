package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrScheduleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrScheduleNotFound is returned when a schedule ID does not exist.
	ErrScheduleNotFound = errors.New("schedule: not found")

	// ErrScheduleExists is returned when creating a schedule with an ID that already exists.
	ErrScheduleExists = errors.New("schedule: already exists")

	// ErrScheduleDisabled is returned when manually running a disabled schedule.
	ErrScheduleDisabled = errors.New("schedule: disabled")

	// ErrInvalidSchedule is returned when schedule validation fails.
	ErrInvalidSchedule = errors.New("schedule: invalid")

	// ErrInvalidTimeSpec is returned when a time specification is invalid.
	ErrInvalidTimeSpec = errors.New("schedule: invalid time spec")

	// ErrInvalidTarget is returned when a zone target is invalid.
	ErrInvalidTarget = errors.New("schedule: invalid target")

	// ErrInvalidAction is returned when a schedule action is invalid.
	ErrInvalidAction = errors.New("schedule: invalid action")

	// ErrInvalidName is returned when a schedule name is empty or too long.
	ErrInvalidName = errors.New("schedule: invalid name")

	// ErrRunNotFound is returned when a run record ID does not exist.
	ErrRunNotFound = errors.New("schedule: run not found")

	// ErrPersistence is returned when a write to the schedule store
	// fails. The in-memory cache is never mutated on this error.
	ErrPersistence = errors.New("schedule: persistence failure")

	// ErrDeviceUnavailable is returned by the executor when the
	// amplifier link is down before any zone command succeeded. The
	// scheduler defers the firing on this error.
	ErrDeviceUnavailable = errors.New("schedule: device unavailable")
)
