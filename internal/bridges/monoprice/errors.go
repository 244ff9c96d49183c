package monoprice

import "errors"

// Domain errors for the monoprice bridge.
//
// Check with errors.Is():
//
//	if errors.Is(err, monoprice.ErrCommandTimeout) {
//	    // transient: retry or surface to the caller
//	}
var (
	// ErrEncoding is returned when a value is outside its attribute's
	// valid domain or a zone id is out of range. This is a caller bug:
	// callers are responsible for clamping before encoding. The codec
	// never silently clamps, keeping encode/decode symmetric.
	ErrEncoding = errors.New("monoprice: encoding error")

	// ErrNotConnected is returned when a command is submitted while the
	// bridge is not connected, or when the connection drops before the
	// command's response arrives. Transient: callers may retry.
	ErrNotConnected = errors.New("monoprice: not connected")

	// ErrCommandTimeout is returned when no correlated response arrives
	// within the command timeout. Transient; repeated timeouts move the
	// connection to the Degraded state.
	ErrCommandTimeout = errors.New("monoprice: command timeout")

	// ErrClosed is returned when the client has been shut down.
	ErrClosed = errors.New("monoprice: client closed")
)

// IsConnectionErr reports whether err means the amplifier link is down
// (as opposed to a per-command failure such as a timeout). Callers use
// this to stop issuing follow-up commands that would fail identically.
func IsConnectionErr(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrClosed)
}
