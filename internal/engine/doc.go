// Package engine wires brokers, slots, the hub and panels together.
//
// The Engine is the single context object every handler works through:
// it owns one panel.Controller per registered panel, routes bus messages
// to them, pushes configuration when slots, brokers or panels change, and
// propagates hub capability changes back onto the bus.
//
// Configuration pushes are coalesced per panel: while a sync runs, further
// requests for the same panel collapse into a single follow-up sync.
// Different panels synchronise concurrently.
package engine
