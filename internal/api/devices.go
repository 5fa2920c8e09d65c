package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/panelsync/internal/audit"
	"github.com/nerrad567/panelsync/internal/hub"
)

type valueRequest struct {
	Value any `json:"value"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.hub.ListDevices(r.Context())
	if class := r.URL.Query().Get("class"); class != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if d.Class == class {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req hub.Device
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := s.hub.CreateDevice(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionCreate, audit.EntityDevice, d.ID, map[string]any{"name": d.Name, "class": d.Class})
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.hub.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.hub.DeleteDevice(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionDelete, audit.EntityDevice, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleSetCapability writes a setable capability as a user would.
func (s *Server) handleSetCapability(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, capability := chi.URLParam(r, "id"), chi.URLParam(r, "cap")
	if err := s.hub.SetCapability(r.Context(), id, capability, req.Value); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	v, err := s.hub.GetCapability(r.Context(), id, capability)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "capability": capability, "value": v})
}

func (s *Server) handleListVariables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"variables": s.hub.ListVariables(r.Context())})
}

func (s *Server) handleSetVariable(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.hub.SetVariable(r.Context(), name, req.Value); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "value": req.Value})
}
