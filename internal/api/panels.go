package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/panelsync/internal/audit"
	"github.com/nerrad567/panelsync/internal/engine"
	"github.com/nerrad567/panelsync/internal/panel"
	"github.com/nerrad567/panelsync/internal/slots"
)

// panelView adds live state to a registered panel.
type panelView struct {
	panel.Panel
	Page int `json:"page"`
}

func (s *Server) viewOf(p panel.Panel) panelView {
	v := panelView{Panel: p, Page: 1}
	if c, err := s.engine.Controller(p.ID); err == nil {
		v.Page = c.Page()
	}
	return v
}

func (s *Server) handleListPanels(w http.ResponseWriter, _ *http.Request) {
	list := s.panels.List()
	out := make([]panelView, 0, len(list))
	for _, p := range list {
		out = append(out, s.viewOf(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"panels": out, "count": len(out)})
}

func (s *Server) handleRegisterPanel(w http.ResponseWriter, r *http.Request) {
	var req panel.Discovered
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := s.panels.Register(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionCreate, audit.EntityPanel, p.ID, map[string]any{"address": p.Address})
	writeJSON(w, http.StatusCreated, s.viewOf(p))
}

// handleRegisterDiscovered registers every unknown panel from a discovery
// sweep; already registered and unusable entries are skipped.
func (s *Server) handleRegisterDiscovered(w http.ResponseWriter, r *http.Request) {
	var req []panel.Discovered
	if !decodeJSON(w, r, &req) {
		return
	}
	added := s.panels.RegisterDiscovered(r.Context(), req)
	out := make([]panelView, 0, len(added))
	for _, p := range added {
		out = append(out, s.viewOf(p))
		s.record(r, audit.ActionCreate, audit.EntityPanel, p.ID, map[string]any{"address": p.Address, "discovered": true})
	}
	writeJSON(w, http.StatusOK, map[string]any{"registered": out, "count": len(out)})
}

func (s *Server) handleGetPanel(w http.ResponseWriter, r *http.Request) {
	p, err := s.panels.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(p))
}

// handleUpdatePanel renames a panel or changes its address.
func (s *Server) handleUpdatePanel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Name    *string `json:"name"`
		Address *string `json:"address"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := s.panels.Get(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if req.Name != nil {
		if p, err = s.panels.Rename(r.Context(), id, *req.Name); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	if req.Address != nil {
		if p, err = s.panels.SetAddress(r.Context(), id, *req.Address); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	s.record(r, audit.ActionUpdate, audit.EntityPanel, id, map[string]any{"name": p.Name, "address": p.Address})
	writeJSON(w, http.StatusOK, s.viewOf(p))
}

func (s *Server) handleDeletePanel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.panels.Delete(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionDelete, audit.EntityPanel, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAssignConnector(w http.ResponseWriter, r *http.Request) {
	n, ok := intParam(w, r, "n")
	if !ok {
		return
	}
	var req struct {
		Type panel.ConnectorType `json:"type"`
		Slot *int                `json:"slot"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	slot := panel.NoSlot
	if req.Slot != nil {
		slot = *req.Slot
	}
	p, err := s.panels.AssignConnector(r.Context(), chi.URLParam(r, "id"), n, req.Type, slot)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionUpdate, audit.EntityPanel, p.ID, map[string]any{"connector": n, "type": req.Type, "slot": slot})
	writeJSON(w, http.StatusOK, s.viewOf(p))
}

// handleSyncPanel pushes the panel's configuration now and reports what
// was written.
func (s *Server) handleSyncPanel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.engine.SyncNow(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	ev := engine.SyncEvent{
		PanelID:    id,
		Sections:   res.Sections,
		Attempts:   res.Attempts,
		ReadFailed: res.ReadFailed != nil,
	}
	if ev.Sections == nil {
		ev.Sections = []string{}
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) controller(w http.ResponseWriter, r *http.Request) (*panel.Controller, bool) {
	c, err := s.engine.Controller(chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return nil, false
	}
	return c, true
}

func (s *Server) handleSetPage(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req struct {
		Page int `json:"page"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := c.SetPage(r.Context(), req.Page); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSetBrightness(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	var req struct {
		Value int `json:"value"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Value < 0 || req.Value > 100 {
		writeBadRequest(w, "value must be between 0 and 100")
		return
	}
	if err := c.SetBrightness(r.Context(), req.Value); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleUpdateFirmware(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.panels.UpdateFirmware(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionCommand, audit.EntityPanel, id, map[string]any{"command": "update_firmware"})
	w.WriteHeader(http.StatusAccepted)
}

// handleSetButton drives one button from an automation: state, label or both.
func (s *Server) handleSetButton(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	n, ok := intParam(w, r, "n")
	if !ok {
		return
	}
	side, err := slots.ParseSide(chi.URLParam(r, "side"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	var req struct {
		Page  int     `json:"page"`
		State *bool   `json:"state"`
		Label *string `json:"label"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.State == nil && req.Label == nil {
		writeBadRequest(w, "state or label is required")
		return
	}
	if req.State != nil {
		if err := c.SetButtonState(r.Context(), n, side, req.Page, *req.State); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	if req.Label != nil {
		if err := c.SetButtonLabel(r.Context(), n, side, req.Page, *req.Label); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
