// Package logging is MonoZone's structured logging layer over
// log/slog. Every record carries the service name and version;
// format (json or text), level and destination come from the
// logging section of config.yaml:
//
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "json"   # json, text
//	  output: "stdout" # stdout, stderr
//
// Components derive tagged child loggers with With:
//
//	busLog := log.With("component", "mqtt")
//	busLog.Info("connected", "broker", cfg.Broker.Host)
//
// Secrets (broker passwords, InfluxDB tokens) must never be logged.
package logging
