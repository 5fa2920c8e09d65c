// Package slots is the configuration store for button-bar and display slots.
//
// A slot is a reusable configuration unit that exists independently of any
// physical panel; panels reference slots by index from their connectors.
// Exactly MaxConfigurations slots of each kind always exist: missing slots
// are back-filled with defaults on load, and fields absent from stored JSON
// take their default values so older records keep working.
//
// Slot contents are only checked for shape. Device and capability
// references are resolved when a button is pressed or a panel is synced.
//
// Thread Safety:
//   - Store methods are safe for concurrent use. Getters return deep copies.
//   - Change listeners run synchronously after the store lock is released.
package slots
