package influxdb

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurementState = "state"
	measurementRuns  = "automation_runs"
)

// WriteStateChange queues a point for one committed state write and
// reports whether it did. Values without a point form are skipped.
func (c *Client) WriteStateChange(plugin, key string, value any) bool {
	if !c.IsConnected() {
		return false
	}
	p, ok := StatePoint(plugin, key, value, time.Now())
	if ok {
		c.writes.WritePoint(p)
	}
	return ok
}

// StatePoint builds a "state" point tagged with plugin and key.
//
// Numbers go to the "value" field, and so do booleans as 1 or 0 so they
// graph next to numbers. Strings go to "text". Anything else (nil,
// lists, maps) has no point form and returns false.
func StatePoint(plugin, key string, value any, ts time.Time) (*write.Point, bool) {
	field, v, ok := stateField(value)
	if !ok {
		return nil, false
	}
	return influxdb2.NewPointWithMeasurement(measurementState).
		AddTag("plugin", plugin).
		AddTag("key", key).
		AddField(field, v).
		SetTime(ts), true
}

func stateField(value any) (field string, v any, ok bool) {
	switch x := value.(type) {
	case float64:
		return "value", x, true
	case float32:
		return "value", float64(x), true
	case int:
		return "value", float64(x), true
	case int64:
		return "value", float64(x), true
	case bool:
		if x {
			return "value", 1.0, true
		}
		return "value", 0.0, true
	case string:
		return "text", x, true
	}
	return "", nil, false
}

// WriteAutomationRun queues a point for one finished run.
func (c *Client) WriteAutomationRun(automation, status string, duration time.Duration, completed, failed, skipped int) {
	if c.IsConnected() {
		c.writes.WritePoint(RunPoint(automation, status, duration, completed, failed, skipped, time.Now()))
	}
}

// RunPoint builds an "automation_runs" point tagged with the automation
// and its final status. Action counts and the duration are fields.
func RunPoint(automation, status string, duration time.Duration, completed, failed, skipped int, ts time.Time) *write.Point {
	return influxdb2.NewPointWithMeasurement(measurementRuns).
		AddTag("automation", automation).
		AddTag("status", status).
		AddField("duration_ms", duration.Milliseconds()).
		AddField("actions_completed", completed).
		AddField("actions_failed", failed).
		AddField("actions_skipped", skipped).
		SetTime(ts)
}
