package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Actions recorded in the trail.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionCommand = "command"
	ActionLogin   = "login"
)

// Entities recorded in the trail.
const (
	EntityBroker      = "broker"
	EntitySettings    = "settings"
	EntityButtonSlot  = "button_slot"
	EntityDisplaySlot = "display_slot"
	EntityPanel       = "panel"
	EntityDevice      = "device"
	EntityVariable    = "variable"
	EntitySession     = "session"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one audit record.
type Entry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entity_id,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter selects entries. Empty fields match everything.
type Filter struct {
	Action   string
	Entity   string
	EntityID string
	Limit    int
	Offset   int
}

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Page is a window of entries, newest first.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores entries.
type Repository interface {
	Insert(ctx context.Context, e Entry) error
	List(ctx context.Context, f Filter) (Page, error)
}

// Logger is the logging interface used by the trail.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Trail records entries. A nil *Trail records nothing.
type Trail struct {
	repo   Repository
	logger Logger
	now    func() time.Time
}

// NewTrail creates a trail over repo.
func NewTrail(repo Repository) *Trail {
	return &Trail{repo: repo, logger: noopLogger{}, now: time.Now}
}

// SetLogger sets the logger used for failed writes.
func (t *Trail) SetLogger(logger Logger) {
	if t != nil && logger != nil {
		t.logger = logger
	}
}

// Record stores e, filling in the id and timestamp.
func (t *Trail) Record(ctx context.Context, e Entry) {
	if t == nil {
		return
	}
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now().UTC()
	}
	if err := t.repo.Insert(ctx, e); err != nil {
		t.logger.Warn("audit write failed", "action", e.Action, "entity", e.Entity, "error", err)
	}
}

// List returns entries matching f, newest first.
func (t *Trail) List(ctx context.Context, f Filter) (Page, error) {
	f = f.normalized()
	if t == nil {
		return Page{Entries: []Entry{}, Limit: f.Limit, Offset: f.Offset}, nil
	}
	return t.repo.List(ctx, f)
}
