// Package mqtt is MonoZone's optional outward-facing bus.
//
// Zone state is published retained on monozone/state/zone/{id}, so
// dashboards and home automation controllers see current state the
// moment they subscribe. Zone commands are accepted back on
// monozone/command/zone/{id}, and schedule firings are announced on
// monozone/schedule/{id}/fired. Process liveness lives on
// monozone/system/status, backed by a last-will message so a crashed
// process is distinguishable from a stopped one.
//
// The client keeps its own subscription table and replays it after a
// reconnect, so callers subscribe once and forget about broker
// outages:
//
//	bus, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer bus.Close()
//
//	err = bus.Subscribe(mqtt.Topics{}.AllZoneCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        zoneID, ok := mqtt.ParseZoneCommandTopic(topic)
//	        ...
//	    })
package mqtt
