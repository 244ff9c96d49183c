package influxdb

import "errors"

// Sentinel errors for the telemetry layer, matched with errors.Is.
var (
	// ErrDisabled means the InfluxDB integration is switched off in
	// configuration. Telemetry is optional; callers treat this as
	// "run without metrics", not a failure.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed means the server never answered the
	// initial ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected means the client has been closed.
	ErrNotConnected = errors.New("influxdb: not connected")
)
