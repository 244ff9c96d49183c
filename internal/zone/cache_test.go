package zone

import (
	"errors"
	"sync"
	"testing"
)

// =============================================================================
// Construction and Lookup Tests
// =============================================================================

func TestNewCache_StaleDefaults(t *testing.T) {
	c := NewCache([]int{1, 2, 3})

	for _, id := range []int{1, 2, 3} {
		st, err := c.Get(id)
		if err != nil {
			t.Fatalf("Get(%d) error = %v", id, err)
		}
		if !st.Stale {
			t.Errorf("zone %d Stale = false, want true before first confirmation", id)
		}
		if st.Zone != id {
			t.Errorf("zone %d State.Zone = %d", id, st.Zone)
		}
		// Defaults are the amplifier's neutral positions.
		if st.Source != 1 {
			t.Errorf("zone %d default Source = %d, want 1", id, st.Source)
		}
		if st.Bass != 7 || st.Treble != 7 {
			t.Errorf("zone %d default bass/treble = %d/%d, want 7/7", id, st.Bass, st.Treble)
		}
		if st.Balance != 10 {
			t.Errorf("zone %d default Balance = %d, want 10", id, st.Balance)
		}
	}
}

func TestCache_Get_UnknownZone(t *testing.T) {
	c := NewCache([]int{1, 2})

	_, err := c.Get(5)
	if !errors.Is(err, ErrUnknownZone) {
		t.Errorf("Get(5) error = %v, want ErrUnknownZone", err)
	}
}

func TestCache_Has(t *testing.T) {
	c := NewCache([]int{1, 3, 5})

	if !c.Has(3) {
		t.Error("Has(3) = false, want true")
	}
	if c.Has(2) {
		t.Error("Has(2) = true, want false")
	}
}

func TestCache_List_Ordered(t *testing.T) {
	c := NewCache([]int{5, 1, 3})

	states := c.List()
	if len(states) != 3 {
		t.Fatalf("List() returned %d states, want 3", len(states))
	}
	for i, want := range []int{1, 3, 5} {
		if states[i].Zone != want {
			t.Errorf("List()[%d].Zone = %d, want %d", i, states[i].Zone, want)
		}
	}
}

func TestCache_ZoneIDs_Ordered(t *testing.T) {
	c := NewCache([]int{6, 2, 4})

	ids := c.ZoneIDs()
	for i, want := range []int{2, 4, 6} {
		if ids[i] != want {
			t.Errorf("ZoneIDs()[%d] = %d, want %d", i, ids[i], want)
		}
	}
}

// =============================================================================
// ApplyStatus Tests
// =============================================================================

func TestCache_ApplyStatus(t *testing.T) {
	c := NewCache([]int{1})

	err := c.ApplyStatus(Status{
		Zone:    1,
		Power:   true,
		Volume:  22,
		Source:  4,
		Bass:    9,
		Treble:  5,
		Balance: 12,
		Keypad:  true,
	})
	if err != nil {
		t.Fatalf("ApplyStatus() error = %v", err)
	}

	st, err := c.Get(1)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if st.Stale {
		t.Error("Stale = true after confirmed status")
	}
	if !st.Power || st.Volume != 22 || st.Source != 4 {
		t.Errorf("state = power=%v volume=%d source=%d, want on/22/4", st.Power, st.Volume, st.Source)
	}
	if st.Bass != 9 || st.Treble != 5 || st.Balance != 12 {
		t.Errorf("tone = %d/%d/%d, want 9/5/12", st.Bass, st.Treble, st.Balance)
	}
	if !st.Keypad {
		t.Error("Keypad = false, want true")
	}
	if st.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestCache_ApplyStatus_UnknownZone(t *testing.T) {
	c := NewCache([]int{1})

	err := c.ApplyStatus(Status{Zone: 4})
	if !errors.Is(err, ErrUnknownZone) {
		t.Errorf("ApplyStatus() error = %v, want ErrUnknownZone", err)
	}
}

// =============================================================================
// ApplyAttribute Tests
// =============================================================================

func TestCache_ApplyAttribute(t *testing.T) {
	tests := []struct {
		name   string
		attr   Attribute
		value  int
		verify func(t *testing.T, st State)
	}{
		{
			name: "power on", attr: AttrPower, value: 1,
			verify: func(t *testing.T, st State) {
				if !st.Power {
					t.Error("Power = false, want true")
				}
			},
		},
		{
			name: "mute on", attr: AttrMute, value: 1,
			verify: func(t *testing.T, st State) {
				if !st.Mute {
					t.Error("Mute = false, want true")
				}
			},
		},
		{
			name: "volume", attr: AttrVolume, value: 30,
			verify: func(t *testing.T, st State) {
				if st.Volume != 30 {
					t.Errorf("Volume = %d, want 30", st.Volume)
				}
			},
		},
		{
			name: "source", attr: AttrSource, value: 5,
			verify: func(t *testing.T, st State) {
				if st.Source != 5 {
					t.Errorf("Source = %d, want 5", st.Source)
				}
			},
		},
		{
			name: "balance", attr: AttrBalance, value: 15,
			verify: func(t *testing.T, st State) {
				if st.Balance != 15 {
					t.Errorf("Balance = %d, want 15", st.Balance)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCache([]int{2})
			if err := c.ApplyAttribute(2, tt.attr, tt.value); err != nil {
				t.Fatalf("ApplyAttribute() error = %v", err)
			}
			st, _ := c.Get(2)
			if st.Stale {
				t.Error("Stale = true after confirmed attribute")
			}
			tt.verify(t, st)
		})
	}
}

func TestCache_ApplyAttribute_Errors(t *testing.T) {
	c := NewCache([]int{1})

	if err := c.ApplyAttribute(9, AttrVolume, 10); !errors.Is(err, ErrUnknownZone) {
		t.Errorf("unknown zone error = %v, want ErrUnknownZone", err)
	}

	if err := c.ApplyAttribute(1, AttrKeypad, 1); !errors.Is(err, ErrUnknownAttribute) {
		t.Errorf("read-only attribute error = %v, want ErrUnknownAttribute", err)
	}

	if err := c.ApplyAttribute(1, Attribute("loudness"), 1); !errors.Is(err, ErrUnknownAttribute) {
		t.Errorf("unknown attribute error = %v, want ErrUnknownAttribute", err)
	}
}

// =============================================================================
// Callback Tests
// =============================================================================

func TestCache_OnUpdate(t *testing.T) {
	c := NewCache([]int{1})

	var got []State
	c.SetOnUpdate(func(st State) {
		got = append(got, st)
	})

	if err := c.ApplyAttribute(1, AttrVolume, 18); err != nil {
		t.Fatalf("ApplyAttribute() error = %v", err)
	}
	if err := c.ApplyStatus(Status{Zone: 1, Power: true, Volume: 18}); err != nil {
		t.Fatalf("ApplyStatus() error = %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("callback invoked %d times, want 2", len(got))
	}
	if got[0].Volume != 18 {
		t.Errorf("first callback Volume = %d, want 18", got[0].Volume)
	}
	if !got[1].Power {
		t.Error("second callback Power = false, want true")
	}
}

func TestCache_OnUpdate_Cleared(t *testing.T) {
	c := NewCache([]int{1})

	calls := 0
	c.SetOnUpdate(func(State) { calls++ })
	c.SetOnUpdate(nil)

	if err := c.ApplyAttribute(1, AttrVolume, 5); err != nil {
		t.Fatalf("ApplyAttribute() error = %v", err)
	}
	if calls != 0 {
		t.Errorf("callback invoked %d times after clearing, want 0", calls)
	}
}

// =============================================================================
// Concurrency Tests
// =============================================================================

func TestCache_ConcurrentAccess(t *testing.T) {
	c := NewCache([]int{1, 2, 3, 4, 5, 6})

	var wg sync.WaitGroup
	// One writer per zone, many readers.
	for id := 1; id <= 6; id++ {
		wg.Add(1)
		go func(zoneID int) {
			defer wg.Done()
			for v := 0; v <= 38; v++ {
				_ = c.ApplyAttribute(zoneID, AttrVolume, v)
			}
		}(id)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.List()
				_, _ = c.Get(3)
			}
		}()
	}
	wg.Wait()

	st, err := c.Get(4)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if st.Volume != 38 {
		t.Errorf("Volume = %d, want 38", st.Volume)
	}
}
