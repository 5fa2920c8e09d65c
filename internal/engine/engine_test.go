package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/panelsync/internal/broker"
	"github.com/nerrad567/panelsync/internal/flow"
	"github.com/nerrad567/panelsync/internal/hub"
	"github.com/nerrad567/panelsync/internal/infrastructure/database"
	"github.com/nerrad567/panelsync/internal/infrastructure/mqtt"
	"github.com/nerrad567/panelsync/internal/panel"
	"github.com/nerrad567/panelsync/internal/panel/deviceconfig"
	"github.com/nerrad567/panelsync/internal/slots"
	_ "github.com/nerrad567/panelsync/migrations"
)

type sent struct {
	topic    string
	payload  string
	retained bool
}

// busConn is an in-memory broker connection.
type busConn struct {
	mu   sync.Mutex
	pubs []sent
	subs map[string]mqtt.MessageHandler
}

func (c *busConn) Publish(topic string, payload []byte, _ byte, retained bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pubs = append(c.pubs, sent{topic, string(payload), retained})
	return nil
}

func (c *busConn) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[topic] = h
	return nil
}

func (c *busConn) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, topic)
	return nil
}

func (c *busConn) IsConnected() bool   { return true }
func (c *busConn) SetOnConnect(func()) {}
func (c *busConn) Close() error        { return nil }
func (c *busConn) subscribed(f string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[f] != nil
}
func (c *busConn) handlers() map[string]mqtt.MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]mqtt.MessageHandler, len(c.subs))
	for k, v := range c.subs {
		out[k] = v
	}
	return out
}

// deliver runs every handler whose filter matches topic.
func (c *busConn) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	matched := false
	for filter, h := range c.handlers() {
		if topicMatches(filter, topic) {
			matched = true
			if err := h(topic, []byte(payload)); err != nil {
				t.Errorf("handler %s: %v", filter, err)
			}
		}
	}
	if !matched {
		t.Fatalf("no subscription matches %s", topic)
	}
}

func (c *busConn) published(topic string) []sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sent
	for _, p := range c.pubs {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func topicMatches(filter, topic string) bool {
	f := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, part := range f {
		if part == "#" {
			return true
		}
		if i >= len(tp) || (part != "+" && part != tp[i]) {
			return false
		}
	}
	return len(f) == len(tp)
}

// panelDevice answers the HTTP protocol for one panel.
type panelDevice struct {
	mu     sync.Mutex
	info   deviceconfig.Info
	writes int
	gate   chan struct{}
}

func (d *panelDevice) ReadConfig(context.Context, string) (*deviceconfig.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &deviceconfig.Document{Info: d.info}, nil
}

func (d *panelDevice) WriteConfig(ctx context.Context, _ string, _ deviceconfig.Partial) error {
	d.mu.Lock()
	gate := d.gate
	d.writes++
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (d *panelDevice) UpdateFirmware(context.Context, string) error { return nil }

func (d *panelDevice) writeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

type harness struct {
	engine  *Engine
	conn    *busConn
	brokers *broker.Registry
	hub     *hub.Registry
	slots   *slots.Store
	panels  *panel.Manager
	device  *panelDevice

	mu       sync.Mutex
	triggers []flow.Event
}

func (h *harness) fired(trigger string) []flow.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []flow.Event
	for _, e := range h.triggers {
		if e.Trigger == trigger {
			out = append(out, e)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// newHarness registers panel P1 (firmware fw) with slot 0 on connector 0.
// Slot 0's left button is bound to D1.onoff on the Default broker, which
// resolves to "homey".
func newHarness(t *testing.T, fw string) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "engine.db"), BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	h := &harness{conn: &busConn{subs: make(map[string]mqtt.MessageHandler)}}
	h.device = &panelDevice{info: deviceconfig.Info{
		Mac:        "aa:bb",
		Firmware:   fw,
		Connectors: []deviceconfig.Connector{{ID: 0, Type: deviceconfig.ConnectorButtonBar}},
	}}

	h.brokers = broker.NewRegistry(func(broker.Config) (broker.Conn, error) { return h.conn, nil }, nil)
	if err := h.brokers.Register(ctx, broker.Config{ID: "homey", URL: "10.0.0.2", Port: 1883, Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := h.brokers.SetDefaultBroker(ctx, "homey"); err != nil {
		t.Fatal(err)
	}

	h.hub = hub.NewRegistry(hub.NewSQLiteRepository(db.DB))
	if err := h.hub.RefreshCache(ctx); err != nil {
		t.Fatal(err)
	}
	go h.hub.Run(ctx)
	if _, err := h.hub.CreateDevice(ctx, hub.Device{
		ID:           "D1",
		Name:         "Lamp",
		Capabilities: []hub.CapabilityDef{{Name: hub.CapOnOff, Type: hub.TypeBoolean, Setable: true}},
	}); err != nil {
		t.Fatal(err)
	}

	h.slots = slots.NewStore(slots.NewSQLiteRepository(db.DB))
	if err := h.slots.Load(ctx); err != nil {
		t.Fatal(err)
	}
	left := slots.DefaultButtonSide()
	left.Device, left.Capability = "D1", hub.CapOnOff
	if err := h.slots.SetButtonSlot(ctx, 0, slots.ButtonSlot{Pages: []slots.Page{{Left: left, Right: slots.DefaultButtonSide()}}}); err != nil {
		t.Fatal(err)
	}

	sched := panel.NewScheduler()
	h.panels = panel.NewManager(panel.NewSQLiteRepository(db.DB), h.device, h.hub, sched)
	if _, err := h.panels.Register(ctx, panel.Discovered{ID: "P1", Address: "10.0.0.9"}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.panels.AssignConnector(ctx, "P1", 0, panel.ConnectorButtonBar, 0); err != nil {
		t.Fatal(err)
	}

	triggers := flow.NewDispatcher(h.brokers, nil, nil)
	triggers.Subscribe(func(e flow.Event) {
		h.mu.Lock()
		h.triggers = append(h.triggers, e)
		h.mu.Unlock()
	})

	h.engine = New(Deps{
		Brokers:      h.brokers,
		Slots:        h.slots,
		Hub:          h.hub,
		Panels:       h.panels,
		Synchronizer: panel.NewSynchronizer(h.device, 3),
		Scheduler:    sched,
		Triggers:     triggers,
	}, Options{Vendor: "buttonplus"})
	if err := h.engine.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.engine.Stop)

	waitFor(t, "initial sync", func() bool { return h.device.writeCount() >= 1 })
	return h
}

func TestClickEndToEnd(t *testing.T) {
	h := newHarness(t, "1.12.0")

	h.conn.deliver(t, "buttonplus/P1/button/0-0/click", "true")

	v, err := h.hub.GetCapability(context.Background(), "D1", hub.CapOnOff)
	if err != nil || v != true {
		t.Fatalf("D1.onoff = %v, %v; want true", v, err)
	}
	mirror := h.conn.published("homey/D1/onoff/value")
	if len(mirror) == 0 || mirror[len(mirror)-1].payload != "true" || !mirror[len(mirror)-1].retained {
		t.Fatalf("mirror publishes = %+v", mirror)
	}

	on := h.fired(flow.ButtonOn)
	if len(on) != 1 {
		t.Fatalf("button_on fired %d times", len(on))
	}
	if on[0].Tokens["connector"] != 1 || on[0].Tokens["left_right"] != "left" {
		t.Errorf("tokens = %v", on[0].Tokens)
	}
	if got := h.conn.published("panelsync/flow/P1/button_on"); len(got) != 1 || got[0].retained {
		t.Errorf("trigger publishes = %+v", got)
	}

	// The hub echo neither fires again nor republishes the unchanged value.
	time.Sleep(50 * time.Millisecond)
	if n := len(h.fired(flow.ButtonChanged)); n != 1 {
		t.Errorf("button_changed fired %d times, want 1", n)
	}
	if got := h.conn.published("homey/D1/onoff/value"); len(got) != len(mirror) {
		t.Errorf("echo republished the unchanged value: %+v", got)
	}
}

func TestCapabilitySetPropagates(t *testing.T) {
	h := newHarness(t, "1.12.0")

	h.conn.deliver(t, "homey/D1/onoff/set", "true")
	waitFor(t, "mirror true", func() bool {
		got := h.conn.published("homey/D1/onoff/value")
		return len(got) > 0 && got[len(got)-1].payload == "true"
	})
	waitFor(t, "LED on", func() bool {
		got := h.conn.published("buttonplus/P1/button/0-0/led/front/rgb/set")
		return len(got) > 0 && got[len(got)-1].payload == "#ffffff"
	})

	h.conn.deliver(t, "homey/_variable_/night/set", "1")
	v, err := h.hub.GetVariable(context.Background(), "night")
	if err != nil || v != float64(1) {
		t.Errorf("variable = %v, %v", v, err)
	}
}

func TestVirtualButtonSet(t *testing.T) {
	h := newHarness(t, "1.12.0")
	h.conn.deliver(t, "homey/button/P1-1-0/set", "true")

	c, err := h.engine.Controller("P1")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := c.ButtonValue(0, slots.SideRight, 0); !v {
		t.Error("virtual button not set")
	}
}

func TestPageStateRoutes(t *testing.T) {
	h := newHarness(t, "2.0.0")
	h.conn.deliver(t, "buttonplus/P1/page/state", "1")

	c, _ := h.engine.Controller("P1")
	if c.Page() != 2 {
		t.Errorf("page = %d, want 2", c.Page())
	}
	v, err := h.hub.GetCapability(context.Background(), "P1", hub.CapPage)
	if err != nil || v != float64(2) {
		t.Errorf("page capability = %v, %v", v, err)
	}
}

func TestBadMessagesAreContained(t *testing.T) {
	h := newHarness(t, "1.12.0")
	for _, m := range []struct{ topic, payload string }{
		{"buttonplus/P1/button/x-0/click", "true"},
		{"buttonplus/NOPE/button/0-0/click", "true"},
		{"buttonplus/P1/page/state", "next"},
		{"homey/click", "{not json"},
		{"homey/GONE/onoff/set", "true"},
	} {
		if err := h.engine.HandleMessage("homey", m.topic, []byte(m.payload)); err != nil {
			t.Errorf("%s returned %v", m.topic, err)
		}
	}
	// Still routing afterwards.
	h.conn.deliver(t, "buttonplus/P1/button/0-0/click", "true")
	if len(h.fired(flow.ButtonOn)) != 1 {
		t.Error("router stopped after bad messages")
	}
}

func TestSlotChangeResyncsReferencingPanels(t *testing.T) {
	h := newHarness(t, "1.12.0")
	ctx := context.Background()
	waitFor(t, "settle", func() bool { return h.engine.deps.Scheduler.Len() == 0 })
	before := h.device.writeCount()

	if err := h.slots.SetButtonSlot(ctx, 5, slots.ButtonSlot{Name: "unused"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := h.device.writeCount(); got != before {
		t.Errorf("unrelated slot change wrote config (%d -> %d)", before, got)
	}

	if err := h.slots.SetButtonSlot(ctx, 0, slots.ButtonSlot{Name: "renamed", Pages: []slots.Page{slots.DefaultPage()}}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "resync", func() bool { return h.device.writeCount() > before })
}

func TestBrokerChangeResyncsAll(t *testing.T) {
	h := newHarness(t, "1.12.0")
	before := h.device.writeCount()
	if err := h.brokers.SetBrokers(context.Background(), []broker.Config{
		{ID: "homey", URL: "10.0.0.2", Port: 1883, Enabled: true},
		{ID: "cloud", URL: "mqtt.example.com", Port: 8883, Enabled: true},
	}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "resync", func() bool { return h.device.writeCount() > before })
}

func TestSyncRequestsCoalesce(t *testing.T) {
	h := newHarness(t, "1.12.0")
	waitFor(t, "idle", func() bool {
		h.engine.mu.RLock()
		defer h.engine.mu.RUnlock()
		st := h.engine.syncs["P1"]
		return st == nil || !st.running
	})

	gate := make(chan struct{})
	h.device.mu.Lock()
	h.device.gate = gate
	h.device.mu.Unlock()
	before := h.device.writeCount()

	// The device reports nothing, so every sync writes.
	for range 5 {
		h.engine.RequestSync("P1")
	}
	waitFor(t, "first write", func() bool { return h.device.writeCount() == before+1 })
	close(gate)
	waitFor(t, "follow-up write", func() bool { return h.device.writeCount() == before+2 })
	time.Sleep(50 * time.Millisecond)
	if got := h.device.writeCount(); got != before+2 {
		t.Errorf("writes = %d, want %d", got-before, 2)
	}
	if n := len(h.fired(flow.PanelSynced)); n < 2 {
		t.Errorf("panel_synced fired %d times", n)
	}
}

func TestDeletedPanelStopsRouting(t *testing.T) {
	h := newHarness(t, "1.12.0")
	if err := h.panels.Delete(context.Background(), "P1"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.Controller("P1"); !errors.Is(err, panel.ErrPanelNotFound) {
		t.Errorf("controller err = %v", err)
	}
	if err := h.engine.route(context.Background(), "buttonplus/P1/button/0-0/click", []byte("true")); !errors.Is(err, panel.ErrPanelNotFound) {
		t.Errorf("route err = %v", err)
	}
}

func TestParseButtonID(t *testing.T) {
	tests := []struct {
		in      string
		idx, pg int
		wantErr bool
	}{
		{"0-0", 0, 0, false},
		{"15-3", 15, 3, false},
		{"3", 0, 0, true},
		{"a-1", 0, 0, true},
		{"1--1", 0, 0, true},
	}
	for _, tt := range tests {
		idx, pg, err := parseButtonID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseButtonID(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && (idx != tt.idx || pg != tt.pg) {
			t.Errorf("parseButtonID(%q) = %d,%d", tt.in, idx, pg)
		}
	}
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"0.5", 0.5},
		{`"up"`, "up"},
		{"up", "up"},
		{" idle ", "idle"},
	}
	for _, tt := range tests {
		if got := parsePayload([]byte(tt.in)); got != tt.want {
			t.Errorf("parsePayload(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestMatchPanelPrefersLongestID(t *testing.T) {
	e := New(Deps{}, Options{})
	e.controllers["P1"] = nil
	e.controllers["P1-A"] = nil
	id, rest, ok := e.matchPanel("P1-A-3-0")
	if !ok || id != "P1-A" || rest != "3-0" {
		t.Errorf("matchPanel = %q, %q, %v", id, rest, ok)
	}
	if _, _, ok := e.matchPanel("Q9-1-0"); ok {
		t.Error("matched unknown panel")
	}
}
