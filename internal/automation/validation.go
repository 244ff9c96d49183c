package automation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Validation constants. Value domains match the amplifier's wire
// protocol: volume 0-38, source input 1-6.
const (
	maxNameLength  = 100
	maxTargetZones = 6
	minVolume      = 0
	maxVolume      = 38
	minSource      = 1
	maxSource      = 6
)

// Pre-computed validation set for O(1) action type lookups.
var validActionTypes map[ActionType]struct{}

func init() {
	validActionTypes = make(map[ActionType]struct{}, len(AllActionTypes()))
	for _, a := range AllActionTypes() {
		validActionTypes[a] = struct{}{}
	}
}

// ValidateSchedule performs comprehensive validation on a schedule.
// Returns an error describing the first validation failure found.
func ValidateSchedule(s *Schedule) error {
	if s == nil {
		return ErrInvalidSchedule
	}

	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if err := ValidateTimeSpec(s.Time); err != nil {
		return err
	}
	if err := ValidateTarget(s.Target); err != nil {
		return err
	}
	if err := ValidateAction(s.Action); err != nil {
		return err
	}

	return nil
}

// ValidateName checks if a schedule name is valid.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateTimeSpec checks if a time specification is valid.
// A spec is either one-shot (At set, recurring fields zero) or
// recurring (At nil, hour/minute in range).
func ValidateTimeSpec(t TimeSpec) error {
	if t.OneShot() {
		if len(t.Weekdays) > 0 || t.Hour != 0 || t.Minute != 0 {
			return fmt.Errorf("%w: one-shot spec must not set recurring fields", ErrInvalidTimeSpec)
		}
		return nil
	}

	if t.Hour < 0 || t.Hour > 23 {
		return fmt.Errorf("%w: hour must be 0-23", ErrInvalidTimeSpec)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("%w: minute must be 0-59", ErrInvalidTimeSpec)
	}
	for _, wd := range t.Weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return fmt.Errorf("%w: invalid weekday %d", ErrInvalidTimeSpec, wd)
		}
	}
	return nil
}

// ValidateTarget checks if a zone target is valid.
func ValidateTarget(t Target) error {
	switch t.Type {
	case TargetAllZones:
		if len(t.ZoneIDs) > 0 {
			return fmt.Errorf("%w: all_zones target must not list zone ids", ErrInvalidTarget)
		}
	case TargetZones:
		if len(t.ZoneIDs) == 0 {
			return fmt.Errorf("%w: zones target requires at least one zone id", ErrInvalidTarget)
		}
		if len(t.ZoneIDs) > maxTargetZones {
			return fmt.Errorf("%w: exceeds maximum of %d zones", ErrInvalidTarget, maxTargetZones)
		}
		seen := make(map[int]struct{}, len(t.ZoneIDs))
		for _, id := range t.ZoneIDs {
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: duplicate zone id %d", ErrInvalidTarget, id)
			}
			seen[id] = struct{}{}
		}
	default:
		return fmt.Errorf("%w: unknown target type %q", ErrInvalidTarget, t.Type)
	}
	return nil
}

// ValidateAction checks if a schedule action is valid, including that
// the parameter matching the action type is present and in range.
func ValidateAction(a Action) error {
	if _, ok := validActionTypes[a.Type]; !ok {
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidAction, a.Type)
	}

	switch a.Type {
	case ActionSetVolume:
		if a.Volume == nil {
			return fmt.Errorf("%w: set_volume requires volume", ErrInvalidAction)
		}
		if *a.Volume < minVolume || *a.Volume > maxVolume {
			return fmt.Errorf("%w: volume must be %d-%d", ErrInvalidAction, minVolume, maxVolume)
		}
	case ActionSetSource:
		if a.Source == nil {
			return fmt.Errorf("%w: set_source requires source", ErrInvalidAction)
		}
		if *a.Source < minSource || *a.Source > maxSource {
			return fmt.Errorf("%w: source must be %d-%d", ErrInvalidAction, minSource, maxSource)
		}
	case ActionApplyPreset:
		if a.PresetID == nil || strings.TrimSpace(*a.PresetID) == "" {
			return fmt.Errorf("%w: apply_preset requires preset_id", ErrInvalidAction)
		}
	default:
		// Power and mute actions carry no parameters.
		if a.Volume != nil || a.Source != nil || a.PresetID != nil {
			return fmt.Errorf("%w: %s takes no parameters", ErrInvalidAction, a.Type)
		}
	}
	return nil
}

// GenerateID creates a new UUID for a schedule or run record.
func GenerateID() string {
	return uuid.New().String()
}
