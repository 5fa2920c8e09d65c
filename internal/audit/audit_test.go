package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/panelsync/internal/infrastructure/database"
	_ "github.com/nerrad567/panelsync/migrations"
)

func newTestTrail(t *testing.T) *Trail {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "audit.db"), BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	trail := NewTrail(NewSQLiteRepository(db.DB))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	trail.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return trail
}

func TestRecordAndList(t *testing.T) {
	trail := newTestTrail(t)
	ctx := context.Background()

	trail.Record(ctx, Entry{Action: ActionUpdate, Entity: EntityBroker, Subject: "admin"})
	trail.Record(ctx, Entry{Action: ActionCreate, Entity: EntityPanel, EntityID: "P1", Subject: "admin",
		Details: map[string]any{"address": "10.0.0.5"}})
	trail.Record(ctx, Entry{Action: ActionDelete, Entity: EntityPanel, EntityID: "P1", Subject: "admin"})

	page, err := trail.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 3 || len(page.Entries) != 3 {
		t.Fatalf("Total = %d, entries = %d, want 3", page.Total, len(page.Entries))
	}
	if page.Entries[0].Action != ActionDelete {
		t.Errorf("first entry = %s, want newest (delete)", page.Entries[0].Action)
	}
	if page.Limit != defaultLimit {
		t.Errorf("Limit = %d, want %d", page.Limit, defaultLimit)
	}
	created := page.Entries[1]
	if created.ID == "" || created.Details["address"] != "10.0.0.5" || created.EntityID != "P1" {
		t.Errorf("created entry = %+v", created)
	}
}

func TestListFilters(t *testing.T) {
	trail := newTestTrail(t)
	ctx := context.Background()
	trail.Record(ctx, Entry{Action: ActionUpdate, Entity: EntityButtonSlot, EntityID: "0"})
	trail.Record(ctx, Entry{Action: ActionUpdate, Entity: EntityButtonSlot, EntityID: "1"})
	trail.Record(ctx, Entry{Action: ActionCommand, Entity: EntityPanel, EntityID: "P1"})

	tests := []struct {
		name   string
		filter Filter
		total  int
		count  int
	}{
		{"by entity", Filter{Entity: EntityButtonSlot}, 2, 2},
		{"by entity id", Filter{Entity: EntityButtonSlot, EntityID: "1"}, 1, 1},
		{"by action", Filter{Action: ActionCommand}, 1, 1},
		{"limit", Filter{Limit: 1}, 3, 1},
		{"offset past end", Filter{Offset: 10}, 3, 0},
		{"limit clamped", Filter{Limit: 1000}, 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := trail.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if page.Total != tt.total || len(page.Entries) != tt.count {
				t.Errorf("Total = %d, entries = %d, want %d/%d", page.Total, len(page.Entries), tt.total, tt.count)
			}
			if page.Limit > maxLimit {
				t.Errorf("Limit = %d exceeds %d", page.Limit, maxLimit)
			}
		})
	}
}

type failingRepo struct{}

func (failingRepo) Insert(context.Context, Entry) error { return errors.New("disk full") }
func (failingRepo) List(context.Context, Filter) (Page, error) {
	return Page{}, errors.New("disk full")
}

type warnRecorder struct{ warned int }

func (w *warnRecorder) Warn(string, ...any) { w.warned++ }

func TestRecordFailureIsLogged(t *testing.T) {
	trail := NewTrail(failingRepo{})
	log := &warnRecorder{}
	trail.SetLogger(log)

	trail.Record(context.Background(), Entry{Action: ActionLogin, Entity: EntitySession})
	if log.warned != 1 {
		t.Errorf("warnings = %d, want 1", log.warned)
	}
}

func TestNilTrail(t *testing.T) {
	var trail *Trail
	trail.Record(context.Background(), Entry{Action: ActionLogin})
	page, err := trail.List(context.Background(), Filter{})
	if err != nil || page.Total != 0 || page.Entries == nil {
		t.Errorf("nil trail List() = %+v, %v", page, err)
	}
}
