package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/panelsync/internal/broker"
	"github.com/nerrad567/panelsync/internal/flow"
	"github.com/nerrad567/panelsync/internal/hub"
	"github.com/nerrad567/panelsync/internal/panel/deviceconfig"
	"github.com/nerrad567/panelsync/internal/slots"
)

// fakeHub is an in-memory Hub and DeviceRegistry.
type fakeHub struct {
	mu       sync.Mutex
	values   map[string]map[string]any
	readOnly map[string]bool
	vars     map[string]any
	ensured  []hub.Device
	deleted  []string
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		values:   make(map[string]map[string]any),
		readOnly: make(map[string]bool),
		vars:     make(map[string]any),
	}
}

func (h *fakeHub) add(deviceID, capability string, v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.values[deviceID] == nil {
		h.values[deviceID] = make(map[string]any)
	}
	h.values[deviceID][capability] = v
}

func (h *fakeHub) value(deviceID, capability string) any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.values[deviceID][capability]
}

func (h *fakeHub) GetCapability(_ context.Context, deviceID, capability string) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	caps, ok := h.values[deviceID]
	if !ok {
		return nil, hub.ErrDeviceNotFound
	}
	v, ok := caps[capability]
	if !ok {
		return nil, hub.ErrCapabilityNotFound
	}
	return v, nil
}

func (h *fakeHub) SetCapability(ctx context.Context, deviceID, capability string, value any) error {
	h.mu.Lock()
	ro := h.readOnly[deviceID+"."+capability]
	h.mu.Unlock()
	if ro {
		return hub.ErrNotSetable
	}
	return h.ReportCapability(ctx, deviceID, capability, value)
}

func (h *fakeHub) ReportCapability(_ context.Context, deviceID, capability string, value any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	caps, ok := h.values[deviceID]
	if !ok {
		return hub.ErrDeviceNotFound
	}
	caps[capability] = value
	return nil
}

func (h *fakeHub) GetVariable(_ context.Context, name string) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.vars[name]
	if !ok {
		return nil, hub.ErrVariableNotFound
	}
	return v, nil
}

func (h *fakeHub) SetVariable(_ context.Context, name string, value any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.vars[name] = value
	return nil
}

func (h *fakeHub) EnsureDevice(_ context.Context, d hub.Device) (*hub.Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensured = append(h.ensured, d)
	if h.values[d.ID] == nil {
		h.values[d.ID] = make(map[string]any)
	}
	return &d, nil
}

func (h *fakeHub) DeleteDevice(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted = append(h.deleted, id)
	delete(h.values, id)
	return nil
}

type publication struct {
	broker  string
	topic   string
	payload any
	retain  bool
}

// fakePublisher records publishes.
type fakePublisher struct {
	mu   sync.Mutex
	pubs []publication
}

func (p *fakePublisher) Publish(brokerID, topic string, payload any, opts broker.PublishOptions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pubs = append(p.pubs, publication{brokerID, topic, payload, opts.Retain})
}

// last returns the most recent publish on topic.
func (p *fakePublisher) last(topic string) (publication, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.pubs) - 1; i >= 0; i-- {
		if p.pubs[i].topic == topic {
			return p.pubs[i], true
		}
	}
	return publication{}, false
}

func (p *fakePublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, pub := range p.pubs {
		if pub.topic == topic {
			n++
		}
	}
	return n
}

func (p *fakePublisher) reset() {
	p.mu.Lock()
	p.pubs = nil
	p.mu.Unlock()
}

// fakeTriggers records fired triggers.
type fakeTriggers struct {
	mu     sync.Mutex
	events []flow.Event
}

func (f *fakeTriggers) Fire(_ context.Context, e flow.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeTriggers) named(trigger string) []flow.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []flow.Event
	for _, e := range f.events {
		if e.Trigger == trigger {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeTriggers) reset() {
	f.mu.Lock()
	f.events = nil
	f.mu.Unlock()
}

// fakeSlots serves slots from maps.
type fakeSlots struct {
	buttons  map[int]slots.ButtonSlot
	displays map[int]slots.DisplaySlot
}

func (f *fakeSlots) ButtonSlot(idx int) (slots.ButtonSlot, error) {
	s, ok := f.buttons[idx]
	if !ok {
		return slots.ButtonSlot{}, fmt.Errorf("%w: %d", slots.ErrInvalidConfigIndex, idx)
	}
	return s, nil
}

func (f *fakeSlots) DisplaySlot(idx int) (slots.DisplaySlot, error) {
	s, ok := f.displays[idx]
	if !ok {
		return slots.DisplaySlot{}, fmt.Errorf("%w: %d", slots.ErrInvalidConfigIndex, idx)
	}
	return s, nil
}

// fakeBrokers is a fixed broker list with "homey" as default.
type fakeBrokers struct {
	list []broker.Config
	def  string
}

func (f fakeBrokers) Brokers() []broker.Config { return f.list }

func (f fakeBrokers) ResolveDefault(id string) string {
	if id == "" || id == broker.DefaultAlias {
		return f.def
	}
	return id
}

func homeyBrokers() fakeBrokers {
	return fakeBrokers{
		list: []broker.Config{{ID: "homey", URL: "10.0.0.2", Port: 1883, Enabled: true}},
		def:  "homey",
	}
}

// fakeClient is a scripted DeviceClient.
type fakeClient struct {
	mu        sync.Mutex
	doc       *deviceconfig.Document
	readErr   error
	writeErrs []error
	writes    []deviceconfig.Partial
	updates   int
}

func (c *fakeClient) ReadConfig(_ context.Context, _ string) (*deviceconfig.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	if c.doc == nil {
		return nil, errors.New("no config")
	}
	d := *c.doc
	return &d, nil
}

func (c *fakeClient) WriteConfig(_ context.Context, _ string, partial deviceconfig.Partial) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, partial)
	if len(c.writeErrs) > 0 {
		err := c.writeErrs[0]
		c.writeErrs = c.writeErrs[1:]
		return err
	}
	return nil
}

func (c *fakeClient) UpdateFirmware(_ context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates++
	return nil
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
