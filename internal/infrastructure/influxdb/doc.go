// Package influxdb records MonoZone telemetry as time series.
//
// Three measurements are written: zone_metrics (every confirmed
// volume, source, power and mute change), bridge_connection
// (amplifier link state transitions) and schedule_runs (firing
// outcomes with duration). Points are batched and written
// asynchronously, so telemetry never slows down command handling;
// batch failures arrive through the SetOnError callback.
//
// The integration is optional. With influxdb disabled in config,
// Connect returns ErrDisabled and the rest of the system runs
// without metrics.
package influxdb
