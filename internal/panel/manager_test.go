package panel

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/panelsync/internal/hub"
	"github.com/nerrad567/panelsync/internal/infrastructure/database"
	"github.com/nerrad567/panelsync/internal/panel/deviceconfig"
	"github.com/nerrad567/panelsync/internal/slots"
	_ "github.com/nerrad567/panelsync/migrations"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "panels.db"), BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

type managerRig struct {
	m      *Manager
	repo   *SQLiteRepository
	client *fakeClient
	hub    *fakeHub
	sched  *Scheduler
	events []Change
}

func newManagerRig(t *testing.T) *managerRig {
	t.Helper()
	r := &managerRig{
		repo: NewSQLiteRepository(openTestDB(t).DB),
		client: &fakeClient{doc: &deviceconfig.Document{Info: deviceconfig.Info{
			Mac:      "aa:bb:cc:dd:ee:ff",
			Firmware: "1.12.0",
			Connectors: []deviceconfig.Connector{
				{ID: 0, Type: deviceconfig.ConnectorButtonBar},
				{ID: 1, Type: deviceconfig.ConnectorDisplay},
				{ID: 9, Type: deviceconfig.ConnectorButtonBar},
			},
		}}},
		hub:   newFakeHub(),
		sched: NewScheduler(),
	}
	t.Cleanup(r.sched.Stop)
	r.m = NewManager(r.repo, r.client, r.hub, r.sched)
	r.m.OnChange(func(c Change) { r.events = append(r.events, c) })
	return r
}

func TestManagerRegister(t *testing.T) {
	r := newManagerRig(t)
	ctx := context.Background()

	p, err := r.m.Register(ctx, Discovered{ID: "bp-1", Address: "10.0.0.9"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p.Name != "Panel bp-1" || p.Firmware != "1.12.0" || p.Mac != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("panel = %+v", p)
	}
	if p.Connectors[0].Type != ConnectorButtonBar || p.Connectors[1].Type != ConnectorDisplay || p.Connectors[2].Type != ConnectorUnconfigured {
		t.Errorf("connectors = %+v", p.Connectors)
	}
	for i, c := range p.Connectors {
		if c.Slot != NoSlot {
			t.Errorf("connector %d slot = %d, want none", i, c.Slot)
		}
	}
	if len(r.hub.ensured) != 1 || r.hub.ensured[0].Class != HubClass || len(r.hub.ensured[0].Capabilities) != 4 {
		t.Errorf("hub device = %+v", r.hub.ensured)
	} else if r.hub.ensured[0].Capabilities[0].Name != hub.CapInfo {
		t.Errorf("first capability = %+v, want info", r.hub.ensured[0].Capabilities[0])
	}
	if len(r.events) != 1 || r.events[0].Kind != PanelAdded || !r.events[0].Resync {
		t.Errorf("events = %+v", r.events)
	}

	if _, err := r.m.Register(ctx, Discovered{ID: "bp-1", Address: "10.0.0.9"}); !errors.Is(err, ErrPanelExists) {
		t.Errorf("duplicate register err = %v", err)
	}
	if _, err := r.m.Register(ctx, Discovered{ID: "a/b", Address: "10.0.0.10"}); !errors.Is(err, ErrInvalidPanel) {
		t.Errorf("bad id err = %v", err)
	}
}

func TestManagerRegisterUnreachablePanel(t *testing.T) {
	r := newManagerRig(t)
	r.client.readErr = ErrConfigRead

	p, err := r.m.Register(context.Background(), Discovered{ID: "bp-2", Address: "10.0.0.10"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p.Firmware != "" || p.Connectors[0].Type != ConnectorUnconfigured {
		t.Errorf("panel = %+v", p)
	}
}

func TestManagerRegisterDiscovered(t *testing.T) {
	r := newManagerRig(t)
	ctx := context.Background()
	if _, err := r.m.Register(ctx, Discovered{ID: "bp-1", Address: "10.0.0.9"}); err != nil {
		t.Fatal(err)
	}

	added := r.m.RegisterDiscovered(ctx, []Discovered{
		{ID: "bp-1", Address: "10.0.0.9"},
		{ID: "bp-2", Address: "10.0.0.10"},
		{ID: "", Address: "10.0.0.11"},
	})
	if len(added) != 1 || added[0].ID != "bp-2" {
		t.Errorf("added = %+v", added)
	}
	if got := len(r.m.List()); got != 2 {
		t.Errorf("List = %d panels, want 2", got)
	}
}

func TestManagerAssignConnector(t *testing.T) {
	r := newManagerRig(t)
	ctx := context.Background()
	if _, err := r.m.Register(ctx, Discovered{ID: "bp-1", Address: "10.0.0.9"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		connector int
		typ       ConnectorType
		slot      int
		wantErr   error
	}{
		{"assign button slot", 0, ConnectorButtonBar, 3, nil},
		{"clear", 1, ConnectorDisplay, NoSlot, nil},
		{"connector too large", 8, ConnectorButtonBar, 0, ErrInvalidConnector},
		{"negative connector", -1, ConnectorButtonBar, 0, ErrInvalidConnector},
		{"slot too large", 0, ConnectorButtonBar, slots.MaxConfigurations, slots.ErrInvalidConfigIndex},
		{"slot below none", 0, ConnectorButtonBar, -2, slots.ErrInvalidConfigIndex},
		{"bad type", 0, ConnectorType("dial"), 0, ErrInvalidPanel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := r.m.AssignConnector(ctx, "bp-1", tt.connector, tt.typ, tt.slot)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("AssignConnector: %v", err)
			}
			if got := p.Connectors[tt.connector]; got.Type != tt.typ || got.Slot != tt.slot {
				t.Errorf("connector = %+v", got)
			}
		})
	}

	if _, err := r.m.AssignConnector(ctx, "nope", 0, ConnectorButtonBar, 0); !errors.Is(err, ErrPanelNotFound) {
		t.Errorf("unknown panel err = %v", err)
	}

	// Assignments survive a reload.
	m2 := NewManager(r.repo, r.client, nil, nil)
	if err := m2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	p, err := m2.Get("bp-1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Connectors[0] != (Connector{Type: ConnectorButtonBar, Slot: 3}) {
		t.Errorf("reloaded connector 0 = %+v", p.Connectors[0])
	}
	if p.CreatedAt.IsZero() || p.UpdatedAt.Before(p.CreatedAt) {
		t.Errorf("timestamps = %v / %v", p.CreatedAt, p.UpdatedAt)
	}
}

func TestManagerFirmware(t *testing.T) {
	r := newManagerRig(t)
	ctx := context.Background()
	if _, err := r.m.Register(ctx, Discovered{ID: "bp-1", Address: "10.0.0.9"}); err != nil {
		t.Fatal(err)
	}
	r.events = nil

	if _, err := r.m.UpdateFirmwareVersion(ctx, "bp-1", "1.12.0"); err != nil {
		t.Fatal(err)
	}
	if len(r.events) != 0 {
		t.Errorf("unchanged firmware notified %d times", len(r.events))
	}
	p, err := r.m.UpdateFirmwareVersion(ctx, "bp-1", "2.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Firmware != "2.0.1" || len(r.events) != 1 || !r.events[0].Resync {
		t.Errorf("panel = %+v, events = %+v", p, r.events)
	}

	if err := r.m.UpdateFirmware(ctx, "bp-1"); err != nil {
		t.Fatalf("UpdateFirmware: %v", err)
	}
	if r.client.updates != 1 {
		t.Errorf("firmware updates = %d, want 1", r.client.updates)
	}
	if err := r.m.UpdateFirmware(ctx, "nope"); !errors.Is(err, ErrPanelNotFound) {
		t.Errorf("unknown panel err = %v", err)
	}
}

func TestManagerDeleteCancelsTasks(t *testing.T) {
	r := newManagerRig(t)
	ctx := context.Background()
	if _, err := r.m.Register(ctx, Discovered{ID: "bp-1", Address: "10.0.0.9"}); err != nil {
		t.Fatal(err)
	}
	r.sched.Schedule(TaskKey{PanelID: "bp-1", Kind: TaskRevert}, time.Hour, func() {})
	r.sched.Schedule(TaskKey{PanelID: "other", Kind: TaskRevert}, time.Hour, func() {})

	if err := r.m.Delete(ctx, "bp-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if r.sched.Len() != 1 {
		t.Errorf("pending tasks = %d, want 1", r.sched.Len())
	}
	if len(r.hub.deleted) != 1 || r.hub.deleted[0] != "bp-1" {
		t.Errorf("hub deletes = %v", r.hub.deleted)
	}
	if _, err := r.m.Get("bp-1"); !errors.Is(err, ErrPanelNotFound) {
		t.Errorf("Get after delete err = %v", err)
	}
	if last := r.events[len(r.events)-1]; last.Kind != PanelRemoved {
		t.Errorf("last event = %+v", last)
	}
	if err := r.m.Delete(ctx, "bp-1"); !errors.Is(err, ErrPanelNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestManagerRename(t *testing.T) {
	r := newManagerRig(t)
	ctx := context.Background()
	if _, err := r.m.Register(ctx, Discovered{ID: "bp-1", Address: "10.0.0.9"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.m.Rename(ctx, "bp-1", "  "); !errors.Is(err, ErrInvalidPanel) {
		t.Errorf("blank name err = %v", err)
	}
	p, err := r.m.Rename(ctx, "bp-1", "Hallway")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Hallway" || r.hub.ensured[len(r.hub.ensured)-1].Name != "Hallway" {
		t.Errorf("rename not applied: %+v", p)
	}
}
