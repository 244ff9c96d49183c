package zone

import "errors"

// Domain errors for the zone package.
//
// Check with errors.Is():
//
//	if errors.Is(err, zone.ErrUnknownZone) {
//	    // caller asked for a zone that is not configured
//	}
var (
	// ErrUnknownZone is returned when a zone id is not configured.
	// This is a caller bug, not a transient condition.
	ErrUnknownZone = errors.New("zone: unknown zone")

	// ErrUnknownAttribute is returned when an attribute name is not recognised.
	ErrUnknownAttribute = errors.New("zone: unknown attribute")
)
