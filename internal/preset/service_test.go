package preset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/twolfekc/monozone-pi/internal/bridges/monoprice"
	"github.com/twolfekc/monozone-pi/internal/zone"
)

// ─── Mocks ──────────────────────────────────────────────────────────────────

type recordedSet struct {
	zoneID int
	attr   zone.Attribute
	value  int
}

type recordingSender struct {
	calls []recordedSet
	errs  map[int]error // per-zone failures
}

func (m *recordingSender) Set(_ context.Context, zoneID int, attr zone.Attribute, value int) error {
	m.calls = append(m.calls, recordedSet{zoneID, attr, value})
	return m.errs[zoneID]
}

type serviceFixture struct {
	svc    *Service
	sender *recordingSender
	cache  *zone.Cache
	repo   *SQLiteRepository
}

func setupService(t *testing.T) *serviceFixture {
	t.Helper()

	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	sender := &recordingSender{}
	cache := zone.NewCache([]int{1, 2, 3})

	return &serviceFixture{
		svc:    NewService(repo, sender, cache),
		sender: sender,
		cache:  cache,
		repo:   repo,
	}
}

// ─── Validation Tests ───────────────────────────────────────────────────────

func TestService_CreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Preset)
		wantErr error
	}{
		{
			name:   "valid",
			mutate: func(*Preset) {},
		},
		{
			name:    "empty name",
			mutate:  func(p *Preset) { p.Name = "  " },
			wantErr: ErrInvalidPreset,
		},
		{
			name:    "name too long",
			mutate:  func(p *Preset) { p.Name = strings.Repeat("x", 101) },
			wantErr: ErrInvalidPreset,
		},
		{
			name:    "no zones",
			mutate:  func(p *Preset) { p.Zones = nil },
			wantErr: ErrNoZones,
		},
		{
			name: "duplicate zone",
			mutate: func(p *Preset) {
				p.Zones = append(p.Zones, p.Zones[0])
			},
			wantErr: ErrInvalidPreset,
		},
		{
			name:    "unconfigured zone",
			mutate:  func(p *Preset) { p.Zones[0].ZoneID = 5 },
			wantErr: ErrInvalidPreset,
		},
		{
			name:    "volume out of range",
			mutate:  func(p *Preset) { p.Zones[0].Volume = 39 },
			wantErr: ErrInvalidPreset,
		},
		{
			name:    "source out of range",
			mutate:  func(p *Preset) { p.Zones[1].Source = 7 },
			wantErr: ErrInvalidPreset,
		},
		{
			name:    "balance out of range",
			mutate:  func(p *Preset) { p.Zones[0].Balance = 21 },
			wantErr: ErrInvalidPreset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := setupService(t)
			p := testPreset("", tt.name)
			tt.mutate(p)

			err := fx.svc.Create(context.Background(), p)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Create: %v", err)
				}
				if p.ID == "" {
					t.Error("Create did not assign an ID")
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Create = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// ─── Apply Tests ────────────────────────────────────────────────────────────

func TestService_Apply_PowerFirstOrdering(t *testing.T) {
	fx := setupService(t)
	ctx := context.Background()

	p := &Preset{
		Name: "Single Zone",
		Zones: []Snapshot{
			{ZoneID: 2, Power: true, Mute: true, Volume: 14, Source: 3, Bass: 8, Treble: 6, Balance: 12},
		},
	}
	if err := fx.svc.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := fx.svc.Apply(ctx, p.ID); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	want := []recordedSet{
		{2, zone.AttrPower, 1},
		{2, zone.AttrSource, 3},
		{2, zone.AttrVolume, 14},
		{2, zone.AttrMute, 1},
		{2, zone.AttrBass, 8},
		{2, zone.AttrTreble, 6},
		{2, zone.AttrBalance, 12},
	}
	if len(fx.sender.calls) != len(want) {
		t.Fatalf("got %d calls, want %d: %+v", len(fx.sender.calls), len(want), fx.sender.calls)
	}
	for i, call := range fx.sender.calls {
		if call != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, call, want[i])
		}
	}
}

func TestService_Apply_PowerOffSkipsAttributes(t *testing.T) {
	fx := setupService(t)
	ctx := context.Background()

	p := &Preset{
		Name: "Zone Off",
		Zones: []Snapshot{
			{ZoneID: 1, Power: false, Volume: 20, Source: 1, Bass: 7, Treble: 7, Balance: 10},
		},
	}
	if err := fx.svc.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := fx.svc.Apply(ctx, p.ID); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(fx.sender.calls) != 1 {
		t.Fatalf("got %d calls, want 1 (power only): %+v", len(fx.sender.calls), fx.sender.calls)
	}
	if fx.sender.calls[0] != (recordedSet{1, zone.AttrPower, 0}) {
		t.Errorf("call = %+v", fx.sender.calls[0])
	}
}

func TestService_Apply_PartialFailure(t *testing.T) {
	fx := setupService(t)
	ctx := context.Background()

	fx.sender.errs = map[int]error{2: errors.New("zone fault")}

	p := testPreset("preset-partial", "Partial")
	if err := fx.svc.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	err := fx.svc.Apply(ctx, "preset-partial")
	if !errors.Is(err, ErrPartialApply) {
		t.Errorf("Apply = %v, want ErrPartialApply", err)
	}
}

func TestService_Apply_ConnectionLostAborts(t *testing.T) {
	fx := setupService(t)
	ctx := context.Background()

	fx.sender.errs = map[int]error{
		1: fmt.Errorf("send: %w", monoprice.ErrNotConnected),
	}

	p := testPreset("preset-down", "Link Down")
	if err := fx.svc.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	err := fx.svc.Apply(ctx, "preset-down")
	if !errors.Is(err, monoprice.ErrNotConnected) {
		t.Errorf("Apply = %v, want wrapped ErrNotConnected", err)
	}

	// Zone 2 must never be attempted once the link is known dead.
	for _, call := range fx.sender.calls {
		if call.zoneID != 1 {
			t.Errorf("zone %d reached the wire after connection loss", call.zoneID)
		}
	}
}

func TestService_Apply_NotFound(t *testing.T) {
	fx := setupService(t)
	if err := fx.svc.Apply(context.Background(), "no-such"); !errors.Is(err, ErrPresetNotFound) {
		t.Errorf("Apply = %v, want ErrPresetNotFound", err)
	}
}

// ─── Capture Tests ──────────────────────────────────────────────────────────

func TestService_Capture(t *testing.T) {
	fx := setupService(t)

	if err := fx.cache.ApplyStatus(zone.Status{
		Zone: 1, Power: true, Volume: 22, Source: 4, Bass: 9, Treble: 6, Balance: 11,
	}); err != nil {
		t.Fatalf("ApplyStatus: %v", err)
	}
	if err := fx.cache.ApplyStatus(zone.Status{
		Zone: 3, Power: false, Mute: true, Volume: 5, Source: 1, Bass: 7, Treble: 7, Balance: 10,
	}); err != nil {
		t.Fatalf("ApplyStatus: %v", err)
	}

	p, err := fx.svc.Capture("Snapshot Now", []int{1, 3})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	if p.ID == "" {
		t.Error("Capture did not assign an ID")
	}
	if len(p.Zones) != 2 {
		t.Fatalf("got %d zones, want 2", len(p.Zones))
	}
	want := Snapshot{ZoneID: 1, Power: true, Volume: 22, Source: 4, Bass: 9, Treble: 6, Balance: 11}
	if p.Zones[0] != want {
		t.Errorf("zone 1 snapshot = %+v, want %+v", p.Zones[0], want)
	}
	if p.Zones[1].ZoneID != 3 || p.Zones[1].Power || !p.Zones[1].Mute {
		t.Errorf("zone 3 snapshot = %+v", p.Zones[1])
	}

	// Capture does not persist.
	if _, err := fx.repo.GetByID(context.Background(), p.ID); !errors.Is(err, ErrPresetNotFound) {
		t.Errorf("Capture persisted the preset: %v", err)
	}
}

func TestService_Capture_DefaultsToPoweredZones(t *testing.T) {
	fx := setupService(t)

	if err := fx.cache.ApplyStatus(zone.Status{
		Zone: 1, Power: true, Volume: 12, Source: 2, Bass: 7, Treble: 7, Balance: 10,
	}); err != nil {
		t.Fatalf("ApplyStatus: %v", err)
	}
	if err := fx.cache.ApplyStatus(zone.Status{
		Zone: 2, Power: false, Source: 1, Bass: 7, Treble: 7, Balance: 10,
	}); err != nil {
		t.Fatalf("ApplyStatus: %v", err)
	}
	if err := fx.cache.ApplyStatus(zone.Status{
		Zone: 3, Power: true, Volume: 20, Source: 5, Bass: 7, Treble: 7, Balance: 10,
	}); err != nil {
		t.Fatalf("ApplyStatus: %v", err)
	}

	p, err := fx.svc.Capture("Everything On", nil)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if len(p.Zones) != 2 {
		t.Fatalf("got %d zones, want the 2 powered-on ones", len(p.Zones))
	}
	if p.Zones[0].ZoneID != 1 || p.Zones[1].ZoneID != 3 {
		t.Errorf("captured zones = %d, %d, want 1, 3", p.Zones[0].ZoneID, p.Zones[1].ZoneID)
	}
}

func TestService_Capture_Errors(t *testing.T) {
	fx := setupService(t)

	// No explicit zones and nothing powered on.
	if _, err := fx.svc.Capture("Empty", nil); !errors.Is(err, ErrNoZones) {
		t.Errorf("Capture(nil zones) = %v, want ErrNoZones", err)
	}
	if _, err := fx.svc.Capture("Unknown", []int{9}); !errors.Is(err, zone.ErrUnknownZone) {
		t.Errorf("Capture(zone 9) = %v, want ErrUnknownZone", err)
	}
}

// ─── CRUD Passthrough Tests ─────────────────────────────────────────────────

func TestService_CRUD(t *testing.T) {
	fx := setupService(t)
	ctx := context.Background()

	p := testPreset("preset-crud", "Lifecycle")
	if err := fx.svc.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := fx.svc.Get(ctx, "preset-crud")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Lifecycle" {
		t.Errorf("Name = %q", got.Name)
	}

	got.Name = "Renamed"
	if err := fx.svc.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}

	presets, err := fx.svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(presets) != 1 || presets[0].Name != "Renamed" {
		t.Errorf("List = %+v", presets)
	}

	if err := fx.svc.Delete(ctx, "preset-crud"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := fx.svc.Get(ctx, "preset-crud"); !errors.Is(err, ErrPresetNotFound) {
		t.Errorf("Get after delete = %v, want ErrPresetNotFound", err)
	}
}
