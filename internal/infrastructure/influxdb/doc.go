// Package influxdb records panel activity history to InfluxDB 2.x.
//
// Writes go through the non-blocking batching WriteAPI so a slow or absent
// InfluxDB never delays button handling. Recording is optional; when
// influxdb.enabled is false Connect returns ErrDisabled and callers run
// without a recorder.
//
// Measurements:
//   - panel_events: one point per button/page/sensor event (tags: panel, event, side)
//   - panel_sync:   one point per configuration push (tags: panel, outcome)
//   - flow_triggers: one point per fired automation trigger
package influxdb
