package hub

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/panelsync/internal/infrastructure/database"
	_ "github.com/nerrad567/panelsync/migrations"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "hub.db"), BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(NewSQLiteRepository(openTestDB(t).DB))
	if err := r.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	return r
}

func lamp() Device {
	return Device{
		ID:   "lamp-1",
		Name: "Kitchen lamp",
		Capabilities: []CapabilityDef{
			{Name: CapOnOff, Type: TypeBoolean, Setable: true},
			{Name: CapDim, Type: TypeNumber, Setable: true},
			{Name: "measure_power", Type: TypeNumber},
		},
	}
}

func TestDevice_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Device)
		wantErr bool
	}{
		{"valid", func(*Device) {}, false},
		{"empty id", func(d *Device) { d.ID = " " }, true},
		{"wildcard in id", func(d *Device) { d.ID = "a/b" }, true},
		{"empty name", func(d *Device) { d.Name = "" }, true},
		{"duplicate capability", func(d *Device) {
			d.Capabilities = append(d.Capabilities, CapabilityDef{Name: CapOnOff, Type: TypeBoolean})
		}, true},
		{"unknown type", func(d *Device) { d.Capabilities[0].Type = "colour" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := lamp()
			tt.mutate(&d)
			err := d.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidDevice) {
				t.Errorf("Validate() error = %v, want ErrInvalidDevice", err)
			}
		})
	}
}

func TestRegistry_SetCapability(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	if _, err := r.CreateDevice(ctx, lamp()); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	if err := r.SetCapability(ctx, "lamp-1", CapOnOff, true); err != nil {
		t.Fatalf("SetCapability() error = %v", err)
	}
	v, err := r.GetCapability(ctx, "lamp-1", CapOnOff)
	if err != nil || v != true {
		t.Fatalf("GetCapability() = %v, %v; want true", v, err)
	}

	if err := r.SetCapability(ctx, "lamp-1", CapDim, 1); err != nil {
		t.Fatalf("SetCapability(int) error = %v", err)
	}
	if v, _ := r.GetCapability(ctx, "lamp-1", CapDim); v != float64(1) {
		t.Errorf("dim = %v (%T), want float64 1", v, v)
	}

	tests := []struct {
		name  string
		dev   string
		cap   string
		value any
		want  error
	}{
		{"unknown device", "nope", CapOnOff, true, ErrDeviceNotFound},
		{"unknown capability", "lamp-1", "volume", 1.0, ErrCapabilityNotFound},
		{"read only", "lamp-1", "measure_power", 12.0, ErrNotSetable},
		{"wrong type", "lamp-1", CapOnOff, "on", ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.SetCapability(ctx, tt.dev, tt.cap, tt.value)
			if !errors.Is(err, tt.want) {
				t.Errorf("SetCapability() error = %v, want %v", err, tt.want)
			}
		})
	}

	if err := r.ReportCapability(ctx, "lamp-1", "measure_power", 12.5); err != nil {
		t.Errorf("ReportCapability(read only) error = %v", err)
	}
}

func TestRegistry_NotifiesOnlyRealChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRegistry(t)
	if _, err := r.CreateDevice(ctx, lamp()); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}

	got := make(chan Change, 8)
	stop := r.Subscribe(func(c Change) { got <- c })
	go r.Run(ctx)

	for _, v := range []bool{true, true, false} {
		if err := r.SetCapability(ctx, "lamp-1", CapOnOff, v); err != nil {
			t.Fatalf("SetCapability() error = %v", err)
		}
	}
	if err := r.SetVariable(ctx, "mode", "away"); err != nil {
		t.Fatalf("SetVariable() error = %v", err)
	}

	want := []Change{
		{DeviceID: "lamp-1", Capability: CapOnOff, Value: true},
		{DeviceID: "lamp-1", Capability: CapOnOff, Value: false},
		{Capability: "mode", Value: "away", Variable: true},
	}
	for i, w := range want {
		select {
		case c := <-got:
			if c != w {
				t.Errorf("change %d = %+v, want %+v", i, c, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for change %d", i)
		}
	}
	select {
	case c := <-got:
		t.Errorf("unexpected extra change %+v", c)
	case <-time.After(50 * time.Millisecond):
	}

	stop()
	if err := r.SetCapability(ctx, "lamp-1", CapOnOff, true); err != nil {
		t.Fatalf("SetCapability() error = %v", err)
	}
	select {
	case c := <-got:
		t.Errorf("change after unsubscribe: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistry_ListenerPanicDoesNotStopDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRegistry(t)
	if _, err := r.CreateDevice(ctx, lamp()); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	got := make(chan Change, 1)
	r.Subscribe(func(Change) { panic("boom") })
	r.Subscribe(func(c Change) { got <- c })
	go r.Run(ctx)

	if err := r.SetCapability(ctx, "lamp-1", CapOnOff, true); err != nil {
		t.Fatalf("SetCapability() error = %v", err)
	}
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("second listener never received the change")
	}
}

func TestRegistry_EnsureDeviceAddsCapabilities(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	d := lamp()
	d.Capabilities = d.Capabilities[:1]
	if _, err := r.EnsureDevice(ctx, d); err != nil {
		t.Fatalf("EnsureDevice(create) error = %v", err)
	}
	if err := r.SetCapability(ctx, "lamp-1", CapOnOff, true); err != nil {
		t.Fatalf("SetCapability() error = %v", err)
	}

	full := lamp()
	full.Name = "Renamed"
	got, err := r.EnsureDevice(ctx, full)
	if err != nil {
		t.Fatalf("EnsureDevice(update) error = %v", err)
	}
	if got.Name != "Renamed" || len(got.Capabilities) != 3 {
		t.Errorf("EnsureDevice() = %+v, want renamed with 3 capabilities", got)
	}
	if got.State[CapOnOff] != true {
		t.Errorf("existing state lost: %v", got.State)
	}
}

func TestRegistry_PersistsAcrossRefresh(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	r := NewRegistry(NewSQLiteRepository(db.DB))
	if _, err := r.CreateDevice(ctx, lamp()); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	if err := r.SetCapability(ctx, "lamp-1", CapDim, 0.4); err != nil {
		t.Fatalf("SetCapability() error = %v", err)
	}
	if err := r.SetVariable(ctx, "scene", 3); err != nil {
		t.Fatalf("SetVariable() error = %v", err)
	}

	fresh := NewRegistry(NewSQLiteRepository(db.DB))
	if err := fresh.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	if v, _ := fresh.GetCapability(ctx, "lamp-1", CapDim); v != 0.4 {
		t.Errorf("dim after refresh = %v, want 0.4", v)
	}
	if v, _ := fresh.GetVariable(ctx, "scene"); v != float64(3) {
		t.Errorf("scene after refresh = %v, want 3", v)
	}
	if _, err := fresh.GetVariable(ctx, "missing"); !errors.Is(err, ErrVariableNotFound) {
		t.Errorf("GetVariable(missing) error = %v", err)
	}
}

func TestRegistry_CreateAndDelete(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	if _, err := r.CreateDevice(ctx, lamp()); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	if _, err := r.CreateDevice(ctx, lamp()); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("CreateDevice(dup) error = %v, want ErrDeviceExists", err)
	}
	if n := len(r.ListDevices(ctx)); n != 1 {
		t.Errorf("ListDevices() len = %d, want 1", n)
	}
	if err := r.DeleteDevice(ctx, "lamp-1"); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}
	if _, err := r.GetDevice(ctx, "lamp-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice(deleted) error = %v", err)
	}
	if err := r.DeleteDevice(ctx, "lamp-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("DeleteDevice(again) error = %v", err)
	}
}

func TestRegistry_GetDeviceReturnsCopy(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	if _, err := r.CreateDevice(ctx, lamp()); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	d, _ := r.GetDevice(ctx, "lamp-1")
	d.State[CapOnOff] = true
	d.Capabilities[0].Name = "hacked"

	again, _ := r.GetDevice(ctx, "lamp-1")
	if _, ok := again.State[CapOnOff]; ok || again.Capabilities[0].Name != CapOnOff {
		t.Errorf("registry state mutated through returned copy: %+v", again)
	}
}
