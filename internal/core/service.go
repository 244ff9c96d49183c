package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twolfekc/monozone-pi/internal/automation"
	"github.com/twolfekc/monozone-pi/internal/bridges/monoprice"
	"github.com/twolfekc/monozone-pi/internal/infrastructure/influxdb"
	"github.com/twolfekc/monozone-pi/internal/infrastructure/mqtt"
	"github.com/twolfekc/monozone-pi/internal/preset"
	"github.com/twolfekc/monozone-pi/internal/zone"
)

// Logger defines the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Deps collects the collaborators the Service is built from. Cache,
// Bridge, Registry, Scheduler, Runs and Presets are required; MQTT and
// Influx are optional and may be nil.
type Deps struct {
	Cache     *zone.Cache
	Bridge    *monoprice.Client
	Registry  *automation.Registry
	Scheduler *automation.Scheduler
	Runs      automation.Repository
	Presets   *preset.Service
	MQTT      *mqtt.Client
	Influx    *influxdb.Client
	QoS       byte
	Logger    Logger
}

// Service is the application facade. See the package documentation.
type Service struct {
	cache     *zone.Cache
	bridge    *monoprice.Client
	registry  *automation.Registry
	scheduler *automation.Scheduler
	runs      automation.Repository
	presets   *preset.Service
	mqtt      *mqtt.Client
	influx    *influxdb.Client
	qos       byte
	logger    Logger
}

// zoneCommand is the JSON payload accepted on the zone command topic.
type zoneCommand struct {
	Attribute string `json:"attribute"`
	Value     int    `json:"value"`
}

// healthPayload is published on bridge connection state changes.
type healthPayload struct {
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// firedPayload is published whenever a schedule firing resolves.
type firedPayload struct {
	ScheduleID     string    `json:"schedule_id"`
	RunID          string    `json:"run_id"`
	Status         string    `json:"status"`
	Trigger        string    `json:"trigger"`
	ZonesCompleted int       `json:"zones_completed"`
	ZonesFailed    int       `json:"zones_failed"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewService creates the facade and registers the cache and bridge
// callbacks for MQTT/Influx fan-out. Call Start after the optional
// MQTT client is connected to attach the command subscription.
func NewService(deps Deps) *Service {
	s := &Service{
		cache:     deps.Cache,
		bridge:    deps.Bridge,
		registry:  deps.Registry,
		scheduler: deps.Scheduler,
		runs:      deps.Runs,
		presets:   deps.Presets,
		mqtt:      deps.MQTT,
		influx:    deps.Influx,
		qos:       deps.QoS,
		logger:    deps.Logger,
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}

	s.cache.SetOnUpdate(s.publishZoneState)
	s.bridge.SetOnStateChange(s.publishBridgeHealth)
	s.scheduler.SetOnFired(s.publishScheduleFired)

	return s
}

// Start attaches the MQTT command subscription. Safe to call with MQTT
// disabled; it then does nothing.
func (s *Service) Start(ctx context.Context) error {
	if s.mqtt == nil {
		return nil
	}

	topic := mqtt.Topics{}.AllZoneCommands()
	if err := s.mqtt.Subscribe(topic, s.qos, func(topic string, payload []byte) error {
		return s.handleZoneCommand(ctx, topic, payload)
	}); err != nil {
		return fmt.Errorf("subscribing to zone commands: %w", err)
	}

	s.logger.Info("zone command subscription active", "topic", topic)
	return nil
}

// ─── Zones ───────────────────────────────────────────────────────────────

// GetZone returns the last-confirmed state of one zone.
func (s *Service) GetZone(zoneID int) (zone.State, error) {
	return s.cache.Get(zoneID)
}

// ListZones returns the last-confirmed state of every configured zone,
// ordered by zone id.
func (s *Service) ListZones() []zone.State {
	return s.cache.List()
}

// ConnectionState returns the amplifier link state.
func (s *Service) ConnectionState() monoprice.ConnState {
	return s.bridge.State()
}

// BridgeStats returns a snapshot of the bridge's wire counters.
func (s *Service) BridgeStats() monoprice.Stats {
	return s.bridge.Stats()
}

// SetZone validates and clamps a single attribute write, then submits
// it to the amplifier and blocks until it is confirmed or fails.
//
// Out-of-domain values are clamped rather than rejected: a volume of
// 100 becomes 38. Unknown zones and non-writable attributes fail.
//
// Returns:
//   - error: zone.ErrUnknownZone, ErrInvalidAttribute, or a bridge
//     error (monoprice.ErrNotConnected, monoprice.ErrCommandTimeout)
func (s *Service) SetZone(ctx context.Context, zoneID int, attr zone.Attribute, value int) error {
	if !s.cache.Has(zoneID) {
		return fmt.Errorf("%w: %d", zone.ErrUnknownZone, zoneID)
	}
	if !attr.Writable() {
		return fmt.Errorf("%w: %q", ErrInvalidAttribute, attr)
	}

	value = monoprice.Clamp(attr, value)

	if err := s.bridge.Set(ctx, zoneID, attr, value); err != nil {
		return fmt.Errorf("setting zone %d %s: %w", zoneID, attr, err)
	}
	return nil
}

// SetAllPower switches every configured zone on or off sequentially.
//
// Zones are attempted in ascending order. A connection-class failure
// stops the remaining zones (they would fail identically); any other
// per-zone failure is collected and the rest continue.
//
// Returns:
//   - error: nil when every zone succeeded, otherwise an error naming
//     the zones that failed
func (s *Service) SetAllPower(ctx context.Context, on bool) error {
	value := 0
	if on {
		value = 1
	}

	var failed []int
	var firstErr error
	for _, id := range s.cache.ZoneIDs() {
		err := s.bridge.Set(ctx, id, zone.AttrPower, value)
		if err == nil {
			continue
		}
		failed = append(failed, id)
		if firstErr == nil {
			firstErr = err
		}
		if isConnectionErr(err) {
			s.logger.Warn("all-zone power aborted, link down", "zone", id, "error", err)
			break
		}
	}

	if firstErr != nil {
		return fmt.Errorf("power %v failed for zones %v: %w", on, failed, firstErr)
	}
	return nil
}

// ─── Schedules ───────────────────────────────────────────────────────────

// ListSchedules returns all schedules sorted by name.
func (s *Service) ListSchedules(ctx context.Context) ([]automation.Schedule, error) {
	return s.registry.ListSchedules(ctx)
}

// GetSchedule returns one schedule by id.
func (s *Service) GetSchedule(ctx context.Context, id string) (*automation.Schedule, error) {
	return s.registry.GetSchedule(ctx, id)
}

// CreateSchedule validates and persists a new schedule.
func (s *Service) CreateSchedule(ctx context.Context, sched *automation.Schedule) error {
	return s.registry.CreateSchedule(ctx, sched)
}

// UpdateSchedule validates and persists changes to a schedule.
func (s *Service) UpdateSchedule(ctx context.Context, sched *automation.Schedule) error {
	return s.registry.UpdateSchedule(ctx, sched)
}

// DeleteSchedule removes a schedule and its run history.
func (s *Service) DeleteSchedule(ctx context.Context, id string) error {
	return s.registry.DeleteSchedule(ctx, id)
}

// ToggleSchedule enables or disables a schedule.
func (s *Service) ToggleSchedule(ctx context.Context, id string, enabled bool) error {
	return s.registry.SetEnabled(ctx, id, enabled)
}

// RunScheduleNow fires a schedule immediately, bypassing the due-check.
// The returned run records per-zone outcomes.
func (s *Service) RunScheduleNow(ctx context.Context, id string) (*automation.Run, error) {
	return s.scheduler.RunNow(ctx, id)
}

// ListScheduleRuns returns recent run history for a schedule, newest
// first.
func (s *Service) ListScheduleRuns(ctx context.Context, scheduleID string, limit int) ([]automation.Run, error) {
	return s.runs.ListRuns(ctx, scheduleID, limit)
}

// ─── Presets ─────────────────────────────────────────────────────────────

// ListPresets returns all presets.
func (s *Service) ListPresets(ctx context.Context) ([]preset.Preset, error) {
	return s.presets.List(ctx)
}

// GetPreset returns one preset by id.
func (s *Service) GetPreset(ctx context.Context, id string) (*preset.Preset, error) {
	return s.presets.Get(ctx, id)
}

// CreatePreset validates and persists a new preset.
func (s *Service) CreatePreset(ctx context.Context, p *preset.Preset) error {
	return s.presets.Create(ctx, p)
}

// UpdatePreset validates and persists changes to a preset.
func (s *Service) UpdatePreset(ctx context.Context, p *preset.Preset) error {
	return s.presets.Update(ctx, p)
}

// DeletePreset removes a preset.
func (s *Service) DeletePreset(ctx context.Context, id string) error {
	return s.presets.Delete(ctx, id)
}

// ApplyPreset restores a preset's zone snapshots to the amplifier.
func (s *Service) ApplyPreset(ctx context.Context, id string) error {
	return s.presets.Apply(ctx, id)
}

// CapturePreset snapshots the current state of the given zones (every
// powered-on zone when empty) and persists it as a named preset.
func (s *Service) CapturePreset(ctx context.Context, name string, zoneIDs []int) (*preset.Preset, error) {
	p, err := s.presets.Capture(name, zoneIDs)
	if err != nil {
		return nil, err
	}
	if err := s.presets.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ─── Fan-out ─────────────────────────────────────────────────────────────

// handleZoneCommand processes one message from the zone command topic.
func (s *Service) handleZoneCommand(ctx context.Context, topic string, payload []byte) error {
	zoneID, ok := mqtt.ParseZoneCommandTopic(topic)
	if !ok {
		return fmt.Errorf("%w: topic %q", ErrInvalidPayload, topic)
	}

	var cmd zoneCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if err := s.SetZone(ctx, zoneID, zone.Attribute(cmd.Attribute), cmd.Value); err != nil {
		s.logger.Warn("mqtt zone command failed",
			"zone", zoneID, "attribute", cmd.Attribute, "error", err)
		return err
	}
	return nil
}

// publishZoneState fans a confirmed zone update out to MQTT (retained)
// and InfluxDB. Runs on the bridge read-loop; both sinks are
// non-blocking.
func (s *Service) publishZoneState(st zone.State) {
	if s.mqtt != nil && s.mqtt.IsConnected() {
		payload, err := json.Marshal(st)
		if err == nil {
			topic := mqtt.Topics{}.ZoneState(st.Zone)
			if err := s.mqtt.PublishRetained(topic, payload); err != nil {
				s.logger.Warn("zone state publish failed", "zone", st.Zone, "error", err)
			}
		}
	}

	if s.influx != nil {
		s.influx.WriteZoneMetric(st.Zone, "power", boolMetric(st.Power))
		s.influx.WriteZoneMetric(st.Zone, "mute", boolMetric(st.Mute))
		s.influx.WriteZoneMetric(st.Zone, "volume", float64(st.Volume))
		s.influx.WriteZoneMetric(st.Zone, "source", float64(st.Source))
	}
}

// publishBridgeHealth publishes amplifier link transitions.
func (s *Service) publishBridgeHealth(state monoprice.ConnState) {
	s.logger.Info("amplifier link state", "state", state.String())

	if s.mqtt != nil && s.mqtt.IsConnected() {
		payload, err := json.Marshal(healthPayload{
			State:     state.String(),
			Timestamp: time.Now().UTC(),
		})
		if err == nil {
			topic := mqtt.Topics{}.BridgeHealth()
			if err := s.mqtt.PublishRetained(topic, payload); err != nil {
				s.logger.Warn("bridge health publish failed", "error", err)
			}
		}
	}

	if s.influx != nil {
		s.influx.WriteConnectionEvent(state.String())
	}
}

// publishScheduleFired announces a resolved schedule firing. Runs on
// the scheduler tick goroutine; both sinks are non-blocking.
func (s *Service) publishScheduleFired(sched *automation.Schedule, run *automation.Run) {
	if s.mqtt != nil && s.mqtt.IsConnected() {
		payload, err := json.Marshal(firedPayload{
			ScheduleID:     sched.ID,
			RunID:          run.ID,
			Status:         string(run.Status),
			Trigger:        string(run.Trigger),
			ZonesCompleted: run.ZonesCompleted,
			ZonesFailed:    run.ZonesFailed,
			Timestamp:      time.Now().UTC(),
		})
		if err == nil {
			topic := mqtt.Topics{}.ScheduleFired(sched.ID)
			if err := s.mqtt.Publish(topic, payload, s.qos, false); err != nil {
				s.logger.Warn("schedule fired publish failed", "schedule_id", sched.ID, "error", err)
			}
		}
	}

	if s.influx != nil {
		durationMS := 0
		if run.DurationMS != nil {
			durationMS = *run.DurationMS
		}
		s.influx.WriteScheduleRun(sched.ID, string(run.Status), durationMS)
	}
}

func boolMetric(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func isConnectionErr(err error) bool {
	return monoprice.IsConnectionErr(err)
}
