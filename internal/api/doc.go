// Package api provides the admin REST API and websocket feed.
//
// It exposes broker, slot, panel and hub-device management plus the panel
// actions automations use (sync, page, brightness, button state and label),
// and pushes live button, sync and trigger events to websocket clients.
//
// The server follows the same lifecycle pattern as other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
