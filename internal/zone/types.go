package zone

import "time"

// Attribute identifies a zone attribute that can be set or reported.
//
// The writable attributes map one-to-one onto amplifier commands; the
// read-only attributes only ever appear in status responses (keypad and
// PA state are reported by the hardware but cannot be commanded).
type Attribute string

// Writable attributes.
const (
	AttrPower   Attribute = "power"   // 0=off, 1=on
	AttrMute    Attribute = "mute"    // 0=unmuted, 1=muted
	AttrVolume  Attribute = "volume"  // 0-38
	AttrSource  Attribute = "source"  // input channel 1-6
	AttrBass    Attribute = "bass"    // 0-14, 7 = neutral
	AttrTreble  Attribute = "treble"  // 0-14, 7 = neutral
	AttrBalance Attribute = "balance" // 0-20, 10 = centre
)

// Read-only attributes.
const (
	AttrPA     Attribute = "pa"     // public address override active
	AttrDND    Attribute = "dnd"    // do-not-disturb active
	AttrKeypad Attribute = "keypad" // wall keypad connected
)

// Writable returns true if the attribute can be commanded.
func (a Attribute) Writable() bool {
	switch a {
	case AttrPower, AttrMute, AttrVolume, AttrSource, AttrBass, AttrTreble, AttrBalance:
		return true
	default:
		return false
	}
}

// Valid returns true if the attribute is one the amplifier knows about.
func (a Attribute) Valid() bool {
	switch a {
	case AttrPower, AttrMute, AttrVolume, AttrSource, AttrBass, AttrTreble, AttrBalance,
		AttrPA, AttrDND, AttrKeypad:
		return true
	default:
		return false
	}
}

// State is the last-confirmed state of a single zone.
//
// Stale is true until the first confirmed device response for this zone
// has been applied; readers should treat a stale State's values as
// defaults, not as device truth.
type State struct {
	Zone    int  `json:"zone"`
	Power   bool `json:"power"`
	Mute    bool `json:"mute"`
	Volume  int  `json:"volume"`
	Source  int  `json:"source"`
	Bass    int  `json:"bass"`
	Treble  int  `json:"treble"`
	Balance int  `json:"balance"`

	// Read-only hardware flags.
	PA     bool `json:"pa"`
	DND    bool `json:"dnd"`
	Keypad bool `json:"keypad"`

	UpdatedAt time.Time `json:"updated_at"`
	Stale     bool      `json:"stale"`
}

// Status is a full confirmed snapshot of one zone as decoded from a
// device status response. All values are raw wire integers; booleans are
// already converted.
type Status struct {
	Zone    int
	Power   bool
	Mute    bool
	Volume  int
	Source  int
	Bass    int
	Treble  int
	Balance int
	PA      bool
	DND     bool
	Keypad  bool
}

// intToBool interprets a wire value as a boolean flag.
func intToBool(v int) bool {
	return v != 0
}
