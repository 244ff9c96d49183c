package preset

import "time"

// Preset is a named, persisted snapshot of audible settings across one
// or more zones.
type Preset struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`

	// Zones to set when the preset is applied (ordered by zone ID).
	Zones []Snapshot `json:"zones"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is one zone's captured settings. Values use the amplifier's
// native domains: volume 0-38, source 1-6, bass/treble 0-14 (7 flat),
// balance 0-20 (10 centred).
type Snapshot struct {
	ZoneID  int  `json:"zone_id"`
	Power   bool `json:"power"`
	Mute    bool `json:"mute"`
	Volume  int  `json:"volume"`
	Source  int  `json:"source"`
	Bass    int  `json:"bass"`
	Treble  int  `json:"treble"`
	Balance int  `json:"balance"`
}

// DeepCopy creates an independent copy of the Preset.
func (p *Preset) DeepCopy() *Preset {
	if p == nil {
		return nil
	}
	cpy := *p
	if p.Description != nil {
		d := *p.Description
		cpy.Description = &d
	}
	if p.Zones != nil {
		cpy.Zones = make([]Snapshot, len(p.Zones))
		copy(cpy.Zones, p.Zones)
	}
	return &cpy
}
