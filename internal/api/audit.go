package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/panelsync/internal/audit"
)

// record adds an entry for the authenticated caller.
func (s *Server) record(r *http.Request, action, entity, entityID string, details map[string]any) {
	subject, _ := r.Context().Value(ctxKeySubject).(string)
	s.audit.Record(r.Context(), audit.Entry{
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Subject:  subject,
		Details:  details,
	})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		Action:   q.Get("action"),
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}
	page, err := s.audit.List(r.Context(), f)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
