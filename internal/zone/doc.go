// Package zone holds the amplifier zone domain model and the in-memory
// state cache.
//
// A Zone is one independently controllable audio output of the amplifier.
// The Cache is the authoritative mirror of last-known zone state: every
// value in it came from a confirmed device response, never from an
// optimistic write. Zones are created once at startup for every configured
// id and are never destroyed; until the first confirmed response arrives a
// zone is flagged stale.
//
// # Key Types
//
//   - Attribute: a controllable or reported zone attribute (power, volume...)
//   - State: the full last-confirmed state of one zone
//   - Cache: thread-safe zone id → State map, single writer many readers
//
// # Thread Safety
//
// Cache is safe for concurrent use. By design the only writer is the
// protocol bridge's read-loop; the scheduler and API layers read only.
package zone
