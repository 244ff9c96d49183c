package core

import "errors"

// Sentinel errors for facade-level validation. Errors from the owning
// packages (zone, monoprice, automation, preset) pass through wrapped.
var (
	// ErrInvalidAttribute indicates a zone command named an attribute
	// that cannot be written.
	ErrInvalidAttribute = errors.New("core: attribute not writable")

	// ErrInvalidPayload indicates an MQTT command payload that could
	// not be parsed.
	ErrInvalidPayload = errors.New("core: invalid command payload")
)
