// Package hub is the device capability registry panels are bound to.
//
// Every button side and display item references a (device, capability)
// pair or a logic variable held here. The registry caches devices in memory,
// persists them in SQLite and delivers a change event for every value that
// actually changes. Events are delivered in order on a single goroutine
// started by Run, so listeners may call back into the registry.
//
// Panels themselves are registered as devices so that their page, sensor
// and info capabilities can be read like any other.
package hub
