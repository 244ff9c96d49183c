package mqtt

import (
	"fmt"
	"strconv"
)

// Topic prefixes for the MonoZone MQTT surface.
//
// The scheme is flat: monozone/{category}/zone/{id} for per-zone
// traffic, monozone/system/* for process-level topics.
const (
	// TopicPrefix is the base for all MonoZone topics.
	TopicPrefix = "monozone"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "monozone/system"
)

// Topics provides builders for MonoZone MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.ZoneState(3)
//	// Returns: "monozone/state/zone/3"
type Topics struct{}

// ZoneState returns the topic for zone state updates. Published
// retained so late subscribers see current state immediately.
//
// Example: monozone/state/zone/3
func (Topics) ZoneState(zoneID int) string {
	return fmt.Sprintf("%s/state/zone/%d", TopicPrefix, zoneID)
}

// ZoneCommand returns the topic external controllers publish zone
// commands to.
//
// Example: monozone/command/zone/3
func (Topics) ZoneCommand(zoneID int) string {
	return fmt.Sprintf("%s/command/zone/%d", TopicPrefix, zoneID)
}

// BridgeHealth returns the topic for amplifier link health updates.
//
// Example: monozone/health/bridge
func (Topics) BridgeHealth() string {
	return TopicPrefix + "/health/bridge"
}

// ScheduleFired returns the topic for schedule firing events.
//
// Example: monozone/schedule/0d1f.../fired
func (Topics) ScheduleFired(scheduleID string) string {
	return fmt.Sprintf("%s/schedule/%s/fired", TopicPrefix, scheduleID)
}

// SystemStatus returns the process status topic, also used for the
// broker's last-will message.
//
// Example: monozone/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllZoneCommands returns a pattern matching commands for every zone.
//
// Pattern: monozone/command/zone/+
func (Topics) AllZoneCommands() string {
	return TopicPrefix + "/command/zone/+"
}

// AllZoneStates returns a pattern matching every zone's state topic.
//
// Pattern: monozone/state/zone/+
func (Topics) AllZoneStates() string {
	return TopicPrefix + "/state/zone/+"
}

// AllTopics returns a pattern matching all MonoZone topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: monozone/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ParseZoneCommandTopic extracts the zone ID from a command topic.
//
// Returns:
//   - int: the zone ID
//   - bool: false when the topic is not a zone command topic
func ParseZoneCommandTopic(topic string) (int, bool) {
	prefix := TopicPrefix + "/command/zone/"
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return 0, false
	}
	id, err := strconv.Atoi(topic[len(prefix):])
	if err != nil {
		return 0, false
	}
	return id, true
}
