package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// PanelEvent is one button, page or sensor event seen on a panel.
type PanelEvent struct {
	PanelID   string
	Event     string // click, longpress, release, page, sensor, ...
	Connector int    // -1 when not button related
	Side      string
	Page      int
	Value     any
	Time      time.Time
}

// SyncOutcome describes a configuration push to one panel.
type SyncOutcome struct {
	PanelID  string
	Sections int
	Attempts int
	Err      error
	Time     time.Time
}

// RecordPanelEvent queues a panel_events point.
func (c *Client) RecordPanelEvent(ev PanelEvent) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(panelEventPoint(ev))
}

// RecordSync queues a panel_sync point.
func (c *Client) RecordSync(out SyncOutcome) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(syncPoint(out))
}

// RecordTrigger queues a flow_triggers point.
func (c *Client) RecordTrigger(panelID, trigger string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint("flow_triggers",
		map[string]string{"panel": panelID, "trigger": trigger},
		map[string]interface{}{"count": 1},
		stamp(at)))
}

func panelEventPoint(ev PanelEvent) *write.Point {
	tags := map[string]string{
		"panel": ev.PanelID,
		"event": ev.Event,
	}
	if ev.Connector >= 0 {
		tags["connector"] = strconv.Itoa(ev.Connector)
		tags["side"] = ev.Side
	}

	fields := map[string]interface{}{"page": ev.Page}
	switch v := ev.Value.(type) {
	case nil:
	case bool:
		fields["state"] = v
	case float64:
		fields["value"] = v
	case int:
		fields["value"] = float64(v)
	case string:
		fields["text"] = v
	}
	return write.NewPoint("panel_events", tags, fields, stamp(ev.Time))
}

func syncPoint(out SyncOutcome) *write.Point {
	outcome := "ok"
	fields := map[string]interface{}{
		"sections": out.Sections,
		"attempts": out.Attempts,
	}
	if out.Err != nil {
		outcome = "failed"
		fields["error"] = out.Err.Error()
	}
	return write.NewPoint("panel_sync",
		map[string]string{"panel": out.PanelID, "outcome": outcome},
		fields, stamp(out.Time))
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
