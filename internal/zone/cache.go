package zone

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// UpdateFunc is invoked after a confirmed update has been applied to the
// cache. The callback receives a copy of the new state and runs on the
// caller's goroutine (the bridge read-loop), so it must not block.
type UpdateFunc func(State)

// Cache is the in-memory authoritative mirror of last-known zone states.
//
// It is populated with a stale default for every configured zone id at
// construction and mutated exclusively through ApplyStatus/ApplyAttribute,
// which the protocol bridge calls for confirmed device responses only.
//
// All methods are safe for concurrent use (one writer, many readers).
type Cache struct {
	mu    sync.RWMutex
	zones map[int]*State

	onUpdate UpdateFunc
	updateMu sync.RWMutex
}

// NewCache creates a cache holding a stale default State for each of the
// given zone ids.
func NewCache(zoneIDs []int) *Cache {
	zones := make(map[int]*State, len(zoneIDs))
	for _, id := range zoneIDs {
		zones[id] = &State{
			Zone:    id,
			Source:  1,
			Bass:    7,
			Treble:  7,
			Balance: 10,
			Stale:   true,
		}
	}
	return &Cache{zones: zones}
}

// SetOnUpdate registers a callback invoked after every confirmed update.
// Pass nil to clear.
func (c *Cache) SetOnUpdate(fn UpdateFunc) {
	c.updateMu.Lock()
	c.onUpdate = fn
	c.updateMu.Unlock()
}

// Get returns a copy of the state for the given zone id.
//
// Returns:
//   - State: last-confirmed state (stale-flagged default if never confirmed)
//   - error: ErrUnknownZone if the id is not configured
func (c *Cache) Get(zoneID int) (State, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.zones[zoneID]
	if !ok {
		return State{}, fmt.Errorf("%w: %d", ErrUnknownZone, zoneID)
	}
	return *s, nil
}

// List returns copies of all zone states ordered by zone id.
func (c *Cache) List() []State {
	c.mu.RLock()
	states := make([]State, 0, len(c.zones))
	for _, s := range c.zones {
		states = append(states, *s)
	}
	c.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool { return states[i].Zone < states[j].Zone })
	return states
}

// ZoneIDs returns the configured zone ids in ascending order.
func (c *Cache) ZoneIDs() []int {
	c.mu.RLock()
	ids := make([]int, 0, len(c.zones))
	for id := range c.zones {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	sort.Ints(ids)
	return ids
}

// Has returns true if the zone id is configured.
func (c *Cache) Has(zoneID int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.zones[zoneID]
	return ok
}

// ApplyStatus applies a full confirmed status snapshot to the cache and
// clears the zone's staleness flag.
//
// This is called by the bridge read-loop for decoded status responses,
// whether solicited (query) or pushed by the device.
//
// Returns:
//   - error: ErrUnknownZone if the status names an unconfigured zone
func (c *Cache) ApplyStatus(st Status) error {
	c.mu.Lock()
	s, ok := c.zones[st.Zone]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownZone, st.Zone)
	}

	s.Power = st.Power
	s.Mute = st.Mute
	s.Volume = st.Volume
	s.Source = st.Source
	s.Bass = st.Bass
	s.Treble = st.Treble
	s.Balance = st.Balance
	s.PA = st.PA
	s.DND = st.DND
	s.Keypad = st.Keypad
	s.UpdatedAt = time.Now().UTC()
	s.Stale = false

	updated := *s
	c.mu.Unlock()

	c.notify(updated)
	return nil
}

// ApplyAttribute applies a single confirmed attribute value to the cache
// and clears the zone's staleness flag.
//
// This is called by the bridge read-loop for decoded command echoes,
// which confirm exactly one attribute.
//
// Returns:
//   - error: ErrUnknownZone for an unconfigured zone,
//     ErrUnknownAttribute for a non-writable attribute
func (c *Cache) ApplyAttribute(zoneID int, attr Attribute, value int) error {
	c.mu.Lock()
	s, ok := c.zones[zoneID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownZone, zoneID)
	}

	switch attr {
	case AttrPower:
		s.Power = intToBool(value)
	case AttrMute:
		s.Mute = intToBool(value)
	case AttrVolume:
		s.Volume = value
	case AttrSource:
		s.Source = value
	case AttrBass:
		s.Bass = value
	case AttrTreble:
		s.Treble = value
	case AttrBalance:
		s.Balance = value
	default:
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownAttribute, attr)
	}

	s.UpdatedAt = time.Now().UTC()
	s.Stale = false

	updated := *s
	c.mu.Unlock()

	c.notify(updated)
	return nil
}

// notify invokes the update callback if one is registered.
func (c *Cache) notify(s State) {
	c.updateMu.RLock()
	fn := c.onUpdate
	c.updateMu.RUnlock()

	if fn != nil {
		fn(s)
	}
}
