// Package core is the application facade that ties the amplifier bridge,
// zone cache, scheduler and presets together behind one API.
//
// External surfaces (a REST layer, an MQTT command topic) call the
// Service; the Service owns validation and clamping at the boundary and
// delegates to the owning package. It also fans confirmed zone updates
// out to MQTT (retained state topics) and InfluxDB (telemetry), and
// republishes bridge connection health.
//
// # Architecture
//
//	MQTT commands ──┐
//	                ├─→ Service ─→ monoprice.Client ─→ amplifier
//	REST (external)─┘      │
//	                       ├─→ automation.Registry/Scheduler
//	                       └─→ preset.Service
//
//	zone.Cache updates ─→ Service fan-out ─→ MQTT retained state
//	                                      └─→ InfluxDB metrics
//
// MQTT and InfluxDB are optional; a nil client disables that fan-out
// without affecting control paths.
package core
