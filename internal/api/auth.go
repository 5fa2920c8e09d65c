package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/panelsync/internal/audit"
	"github.com/nerrad567/panelsync/internal/auth"
)

// ticketTTL is how long a websocket ticket is valid.
const ticketTTL = 60 * time.Second

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// ticketStore holds single-use websocket tickets.
type ticketStore struct {
	mu      sync.Mutex
	tickets map[string]time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]time.Time)}
}

func (t *ticketStore) issue(now time.Time) string {
	b := make([]byte, 32)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	ticket := hex.EncodeToString(b)
	t.mu.Lock()
	t.tickets[ticket] = now.Add(ticketTTL)
	t.mu.Unlock()
	return ticket
}

// redeem consumes ticket, reporting whether it was valid.
func (t *ticketStore) redeem(ticket string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	exp, ok := t.tickets[ticket]
	delete(t.tickets, ticket)
	return ok && now.Before(exp)
}

func (t *ticketStore) clean(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ticket, exp := range t.tickets {
		if now.After(exp) {
			delete(t.tickets, ticket)
		}
	}
}

// handleLogin checks the admin credentials and returns a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	admin := s.secCfg.Admin
	if admin.Username == "" || admin.PasswordHash == "" {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "no admin account configured")
		return
	}
	ok, err := auth.VerifyPassword(req.Password, admin.PasswordHash)
	if err != nil {
		s.logger.Error("admin password hash unusable", "error", err)
		writeInternalError(w, "login unavailable")
		return
	}
	if !ok || req.Username != admin.Username {
		s.logger.Warn("login failed", "username", req.Username, "remote", r.RemoteAddr)
		writeUnauthorized(w, "invalid credentials")
		return
	}

	ttl := time.Duration(s.secCfg.JWT.AccessTokenTTL) * time.Minute
	if ttl <= 0 {
		ttl = auth.DefaultTokenTTL
	}
	tok, err := auth.IssueToken(admin.Username, s.secCfg.JWT.Secret, ttl, s.now())
	if err != nil {
		writeInternalError(w, "failed to generate token")
		return
	}
	s.audit.Record(r.Context(), audit.Entry{Action: audit.ActionLogin, Entity: audit.EntitySession, Subject: admin.Username})
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: tok.Value,
		TokenType:   "Bearer",
		ExpiresIn:   int(ttl.Seconds()),
	})
}

// handleWSTicket issues a single-use ticket so the websocket URL never
// carries the bearer token.
func (s *Server) handleWSTicket(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(s.now()),
		"expires_in": int(ticketTTL.Seconds()),
	})
}

func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickets.clean(s.now())
		}
	}
}
