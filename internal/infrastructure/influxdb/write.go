package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// emit queues one point on the batched writer. Dropped silently when
// the client is closed; telemetry is best-effort by design of the
// non-blocking API.
func (c *Client) emit(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

// WriteZoneMetric records one confirmed zone attribute change.
// Every volume move, source switch and power toggle becomes a point
// in the zone_metrics measurement, tagged by zone and attribute.
func (c *Client) WriteZoneMetric(zoneID int, attribute string, value float64) {
	c.emit("zone_metrics",
		map[string]string{"zone": strconv.Itoa(zoneID), "attribute": attribute},
		map[string]any{"value": value})
}

// WriteConnectionEvent records an amplifier link state transition,
// for tracking how often the iTach drops and how long recovery
// takes.
func (c *Client) WriteConnectionEvent(state string) {
	c.emit("bridge_connection",
		map[string]string{"state": state},
		map[string]any{"value": 1})
}

// WriteScheduleRun records the outcome of a schedule firing with its
// execution duration.
func (c *Client) WriteScheduleRun(scheduleID, status string, durationMS int) {
	c.emit("schedule_runs",
		map[string]string{"schedule_id": scheduleID, "status": status},
		map[string]any{"duration_ms": durationMS})
}
