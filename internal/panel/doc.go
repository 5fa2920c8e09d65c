// Package panel keeps physical button/display panels in step with their
// assigned slots and drives their buttons.
//
// Each panel has eight connectors. A connector is a button bar, a display
// or unconfigured, and names the slot assigned to it. Three parts work on a
// panel:
//
//   - BuildDesired turns the panel's connectors and their slots into the
//     configuration document the panel should hold.
//   - Synchronizer reads the panel's document over HTTP, diffs it against
//     the desired one and writes back only the sections that differ.
//   - Controller owns the panel's live state: the button state machine,
//     the active page and the LED/label messages published to the bus.
//
// Manager is the persistent registry of known panels.
//
// Thread Safety:
//   - A Controller serialises every event for its panel under one lock.
//     Different panels never share state.
//   - Synchronizer allows one HTTP exchange per panel at a time.
package panel
