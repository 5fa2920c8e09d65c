package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		// The websocket authenticates with a ticket from /auth/ws-ticket.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/metrics", s.handleMetrics)
			r.Get("/audit", s.handleListAudit)

			r.Get("/brokers", s.handleListBrokers)
			r.Put("/brokers", s.handleSetBrokers)
			r.Get("/settings/default-broker", s.handleGetDefaultBroker)
			r.Put("/settings/default-broker", s.handleSetDefaultBroker)

			r.Route("/slots", func(r chi.Router) {
				r.Get("/buttons", s.handleListButtonSlots)
				r.Put("/buttons", s.handleSetButtonSlots)
				r.Get("/buttons/{idx}", s.handleGetButtonSlot)
				r.Put("/buttons/{idx}", s.handleSetButtonSlot)
				r.Get("/displays", s.handleListDisplaySlots)
				r.Put("/displays", s.handleSetDisplaySlots)
				r.Get("/displays/{idx}", s.handleGetDisplaySlot)
				r.Put("/displays/{idx}", s.handleSetDisplaySlot)
			})

			r.Route("/panels", func(r chi.Router) {
				r.Get("/", s.handleListPanels)
				r.Post("/", s.handleRegisterPanel)
				r.Post("/discovered", s.handleRegisterDiscovered)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetPanel)
					r.Patch("/", s.handleUpdatePanel)
					r.Delete("/", s.handleDeletePanel)
					r.Put("/connectors/{n}", s.handleAssignConnector)
					r.Post("/sync", s.handleSyncPanel)
					r.Post("/page", s.handleSetPage)
					r.Post("/brightness", s.handleSetBrightness)
					r.Post("/firmware", s.handleUpdateFirmware)
					r.Put("/buttons/{n}/{side}", s.handleSetButton)
				})
			})

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleCreateDevice)
				r.Get("/{id}", s.handleGetDevice)
				r.Delete("/{id}", s.handleDeleteDevice)
				r.Put("/{id}/capabilities/{cap}", s.handleSetCapability)
			})

			r.Get("/variables", s.handleListVariables)
			r.Put("/variables/{name}", s.handleSetVariable)
		})
	})

	return r
}

// handleHealth returns the server health status with broker connectivity.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	brokers := make(map[string]bool)
	for _, b := range s.brokers.Brokers() {
		if b.Enabled {
			brokers[b.ID] = s.brokers.Connected(b.ID)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"version":           s.version,
		"brokers":           brokers,
		"websocket_clients": s.ws.ClientCount(),
	})
}
