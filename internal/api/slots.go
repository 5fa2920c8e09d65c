package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/panelsync/internal/audit"
	"github.com/nerrad567/panelsync/internal/slots"
)

func (s *Server) handleListButtonSlots(w http.ResponseWriter, _ *http.Request) {
	list := s.slots.ButtonSlots()
	writeJSON(w, http.StatusOK, map[string]any{"slots": list, "count": len(list)})
}

func (s *Server) handleSetButtonSlots(w http.ResponseWriter, r *http.Request) {
	var req []slots.ButtonSlot
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.slots.SetButtonSlots(r.Context(), req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionUpdate, audit.EntityButtonSlot, "", map[string]any{"count": len(req)})
	s.handleListButtonSlots(w, r)
}

func (s *Server) handleGetButtonSlot(w http.ResponseWriter, r *http.Request) {
	idx, ok := intParam(w, r, "idx")
	if !ok {
		return
	}
	slot, err := s.slots.ButtonSlot(idx)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (s *Server) handleSetButtonSlot(w http.ResponseWriter, r *http.Request) {
	idx, ok := intParam(w, r, "idx")
	if !ok {
		return
	}
	var req slots.ButtonSlot
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.slots.SetButtonSlot(r.Context(), idx, req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionUpdate, audit.EntityButtonSlot, strconv.Itoa(idx), map[string]any{"name": req.Name})
	s.handleGetButtonSlot(w, r)
}

func (s *Server) handleListDisplaySlots(w http.ResponseWriter, _ *http.Request) {
	list := s.slots.DisplaySlots()
	writeJSON(w, http.StatusOK, map[string]any{"slots": list, "count": len(list)})
}

func (s *Server) handleSetDisplaySlots(w http.ResponseWriter, r *http.Request) {
	var req []slots.DisplaySlot
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.slots.SetDisplaySlots(r.Context(), req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionUpdate, audit.EntityDisplaySlot, "", map[string]any{"count": len(req)})
	s.handleListDisplaySlots(w, r)
}

func (s *Server) handleGetDisplaySlot(w http.ResponseWriter, r *http.Request) {
	idx, ok := intParam(w, r, "idx")
	if !ok {
		return
	}
	slot, err := s.slots.DisplaySlot(idx)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (s *Server) handleSetDisplaySlot(w http.ResponseWriter, r *http.Request) {
	idx, ok := intParam(w, r, "idx")
	if !ok {
		return
	}
	var req slots.DisplaySlot
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.slots.SetDisplaySlot(r.Context(), idx, req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionUpdate, audit.EntityDisplaySlot, strconv.Itoa(idx), map[string]any{"name": req.Name})
	s.handleGetDisplaySlot(w, r)
}
