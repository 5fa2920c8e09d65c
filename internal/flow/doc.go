// Package flow fires automation triggers raised by panels.
//
// A fired trigger is logged, broadcast to websocket clients, published on
// panelsync/flow/<panelId>/<trigger> and, when event history is enabled,
// recorded. Every sink is optional.
package flow
