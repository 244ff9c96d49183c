package preset

import "errors"

// Domain errors for the preset package, checked with errors.Is().
var (
	// ErrPresetNotFound is returned when a preset ID does not exist.
	ErrPresetNotFound = errors.New("preset: not found")

	// ErrPresetExists is returned when creating a preset with an ID that already exists.
	ErrPresetExists = errors.New("preset: already exists")

	// ErrInvalidPreset is returned when preset validation fails.
	ErrInvalidPreset = errors.New("preset: invalid")

	// ErrNoZones is returned when a preset has no zone snapshots.
	ErrNoZones = errors.New("preset: no zones")

	// ErrPartialApply is returned when some, but not all, zones of a
	// preset were applied.
	ErrPartialApply = errors.New("preset: partially applied")
)
