package preset

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/twolfekc/monozone-pi/internal/bridges/monoprice"
	"github.com/twolfekc/monozone-pi/internal/zone"
)

// Validation limits.
const (
	maxNameLength = 100
	maxZones      = 6
)

// CommandSender is the amplifier-facing interface the service needs.
// *monoprice.Client satisfies it.
type CommandSender interface {
	Set(ctx context.Context, zoneID int, attr zone.Attribute, value int) error
}

// Logger mirrors the logging interface used across services.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Service manages presets and applies them to the amplifier.
//
// All public methods are thread-safe; concurrent Apply calls serialise
// naturally through the bridge's single command queue.
type Service struct {
	repo   Repository
	sender CommandSender
	cache  *zone.Cache
	logger Logger
}

// NewService creates a preset service.
//
// Parameters:
//   - repo: preset persistence
//   - sender: amplifier command interface
//   - cache: live zone state, used by Capture and zone validation
func NewService(repo Repository, sender CommandSender, cache *zone.Cache) *Service {
	return &Service{
		repo:   repo,
		sender: sender,
		cache:  cache,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// Get retrieves a preset by ID.
func (s *Service) Get(ctx context.Context, id string) (*Preset, error) {
	return s.repo.GetByID(ctx, id)
}

// List retrieves all presets.
func (s *Service) List(ctx context.Context) ([]Preset, error) {
	return s.repo.List(ctx)
}

// Create validates and persists a new preset, generating an ID when
// none is supplied.
func (s *Service) Create(ctx context.Context, p *Preset) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if err := s.validate(p); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}
	s.logger.Info("preset created", "id", p.ID, "name", p.Name, "zones", len(p.Zones))
	return nil
}

// Update validates and persists changes to a preset.
func (s *Service) Update(ctx context.Context, p *Preset) error {
	if err := s.validate(p); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	s.logger.Info("preset updated", "id", p.ID, "name", p.Name)
	return nil
}

// Delete removes a preset.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("preset deleted", "id", id)
	return nil
}

// Apply sends a preset's snapshots to the amplifier zone by zone.
//
// Power is written first for each zone. Zones the preset powers off get
// nothing else — the amplifier ignores attribute writes to powered-off
// zones anyway. Zones powered on then receive source, volume, mute,
// bass, treble and balance in that order.
//
// Per-zone failures do not abort the remaining zones.
//
// Returns:
//   - error: nil when every zone applied, ErrPartialApply when some
//     did, or the first error when none did (connection errors pass
//     through wrapped so callers can errors.Is against the bridge's
//     sentinels).
func (s *Service) Apply(ctx context.Context, id string) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	var applied int
	var firstErr error
	for _, snap := range p.Zones {
		if zerr := s.applyZone(ctx, snap); zerr != nil {
			s.logger.Warn("preset zone apply failed", "preset_id", id, "zone", snap.ZoneID, "error", zerr)
			if firstErr == nil {
				firstErr = zerr
			}
			// A dead link fails every remaining zone identically.
			if isConnectionErr(zerr) {
				break
			}
			continue
		}
		applied++
	}

	switch {
	case applied == len(p.Zones):
		s.logger.Info("preset applied", "preset_id", id, "name", p.Name, "zones", applied)
		return nil
	case applied > 0:
		return fmt.Errorf("%w: %d of %d zones (first error: %v)", ErrPartialApply, applied, len(p.Zones), firstErr)
	default:
		return fmt.Errorf("applying preset %s: %w", id, firstErr)
	}
}

// applyZone writes one zone's snapshot in power-first order.
func (s *Service) applyZone(ctx context.Context, snap Snapshot) error {
	power := 0
	if snap.Power {
		power = 1
	}
	if err := s.sender.Set(ctx, snap.ZoneID, zone.AttrPower, power); err != nil {
		return fmt.Errorf("power: %w", err)
	}
	if !snap.Power {
		return nil
	}

	steps := []struct {
		attr  zone.Attribute
		value int
	}{
		{zone.AttrSource, snap.Source},
		{zone.AttrVolume, snap.Volume},
		{zone.AttrMute, boolToInt(snap.Mute)},
		{zone.AttrBass, snap.Bass},
		{zone.AttrTreble, snap.Treble},
		{zone.AttrBalance, snap.Balance},
	}
	for _, st := range steps {
		if err := s.sender.Set(ctx, snap.ZoneID, st.attr, st.value); err != nil {
			return fmt.Errorf("%s: %w", st.attr, err)
		}
	}
	return nil
}

// Capture builds a preset from the live cached state of the given
// zones. An empty zone list captures every powered-on zone; when
// nothing is powered on there is nothing worth recalling and
// ErrNoZones is returned. The returned preset is not persisted; pass
// it to Create.
//
// Stale cache entries are captured as-is — the caller decides whether
// an unsynchronised snapshot is acceptable.
func (s *Service) Capture(name string, zoneIDs []int) (*Preset, error) {
	if len(zoneIDs) == 0 {
		for _, st := range s.cache.List() {
			if st.Power {
				zoneIDs = append(zoneIDs, st.Zone)
			}
		}
		if len(zoneIDs) == 0 {
			return nil, fmt.Errorf("%w: all zones are off", ErrNoZones)
		}
	}

	p := &Preset{
		ID:    uuid.New().String(),
		Name:  name,
		Zones: make([]Snapshot, 0, len(zoneIDs)),
	}
	for _, id := range zoneIDs {
		st, err := s.cache.Get(id)
		if err != nil {
			return nil, err
		}
		p.Zones = append(p.Zones, Snapshot{
			ZoneID:  st.Zone,
			Power:   st.Power,
			Mute:    st.Mute,
			Volume:  st.Volume,
			Source:  st.Source,
			Bass:    st.Bass,
			Treble:  st.Treble,
			Balance: st.Balance,
		})
	}

	if err := s.validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// validate checks a preset's name, zone list and value domains.
func (s *Service) validate(p *Preset) error {
	if p == nil {
		return ErrInvalidPreset
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidPreset)
	}
	if len(p.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidPreset, maxNameLength)
	}
	if len(p.Zones) == 0 {
		return ErrNoZones
	}
	if len(p.Zones) > maxZones {
		return fmt.Errorf("%w: exceeds maximum of %d zones", ErrInvalidPreset, maxZones)
	}

	seen := make(map[int]struct{}, len(p.Zones))
	for _, snap := range p.Zones {
		if _, dup := seen[snap.ZoneID]; dup {
			return fmt.Errorf("%w: duplicate zone %d", ErrInvalidPreset, snap.ZoneID)
		}
		seen[snap.ZoneID] = struct{}{}

		if s.cache != nil && !s.cache.Has(snap.ZoneID) {
			return fmt.Errorf("%w: zone %d not configured", ErrInvalidPreset, snap.ZoneID)
		}
		for _, check := range []struct {
			attr  zone.Attribute
			value int
		}{
			{zone.AttrVolume, snap.Volume},
			{zone.AttrSource, snap.Source},
			{zone.AttrBass, snap.Bass},
			{zone.AttrTreble, snap.Treble},
			{zone.AttrBalance, snap.Balance},
		} {
			min, max, err := monoprice.AttributeDomain(check.attr)
			if err != nil {
				return err
			}
			if check.value < min || check.value > max {
				return fmt.Errorf("%w: zone %d %s must be %d-%d", ErrInvalidPreset, snap.ZoneID, check.attr, min, max)
			}
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isConnectionErr reports whether an error stems from a dead amplifier
// link rather than a per-zone problem.
func isConnectionErr(err error) bool {
	return monoprice.IsConnectionErr(err)
}
