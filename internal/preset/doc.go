// Package preset provides named multi-zone amplifier snapshots.
//
// A preset captures the audible settings of one or more zones (power,
// source, volume, mute, tone, balance) so a listening setup can be
// recalled with one call — "dinner party", "radio in the kitchen".
//
// Application order matters on this hardware: a zone must be powered on
// before other attributes stick, so Apply writes power first and only
// sends the remaining attributes to zones the preset powers on.
// Per-zone failures do not abort the rest of the preset.
//
// Presets can be authored directly or captured from the live zone
// state cache via Capture.
package preset
