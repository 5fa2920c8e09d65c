package api

import (
	"net/http"

	"github.com/nerrad567/panelsync/internal/audit"
	"github.com/nerrad567/panelsync/internal/broker"
)

// brokerView is a broker as returned by the API. Passwords are never echoed.
type brokerView struct {
	broker.Config
	HasPassword bool `json:"has_password"`
	Connected   bool `json:"connected"`
}

func (s *Server) handleListBrokers(w http.ResponseWriter, _ *http.Request) {
	list := s.brokers.Brokers()
	out := make([]brokerView, 0, len(list))
	for _, b := range list {
		v := brokerView{Config: b, HasPassword: b.Password != "", Connected: s.brokers.Connected(b.ID)}
		v.Password = ""
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"brokers": out,
		"default": s.brokers.DefaultBroker(),
		"count":   len(out),
	})
}

// handleSetBrokers replaces the broker set. An empty password on an
// existing broker keeps the stored one, since passwords are never read back.
func (s *Server) handleSetBrokers(w http.ResponseWriter, r *http.Request) {
	var req []broker.Config
	if !decodeJSON(w, r, &req) {
		return
	}
	for i := range req {
		if req[i].Password != "" {
			continue
		}
		if cur, ok := s.brokers.Broker(req[i].ID); ok && cur.Username == req[i].Username {
			req[i].Password = cur.Password
		}
	}
	if err := s.brokers.SetBrokers(r.Context(), req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	ids := make([]string, 0, len(req))
	for _, b := range req {
		ids = append(ids, b.ID)
	}
	s.record(r, audit.ActionUpdate, audit.EntityBroker, "", map[string]any{"brokers": ids})
	s.handleListBrokers(w, r)
}

func (s *Server) handleGetDefaultBroker(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"broker_id": s.brokers.DefaultBroker()})
}

func (s *Server) handleSetDefaultBroker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BrokerID string `json:"broker_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.BrokerID == "" {
		writeBadRequest(w, "broker_id is required")
		return
	}
	if err := s.brokers.SetDefaultBroker(r.Context(), req.BrokerID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionUpdate, audit.EntitySettings, "default_broker", map[string]any{"broker_id": req.BrokerID})
	writeJSON(w, http.StatusOK, map[string]string{"broker_id": req.BrokerID})
}
