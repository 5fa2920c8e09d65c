package panel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/panelsync/internal/broker"
	"github.com/nerrad567/panelsync/internal/flow"
	"github.com/nerrad567/panelsync/internal/hub"
	"github.com/nerrad567/panelsync/internal/infrastructure/influxdb"
	"github.com/nerrad567/panelsync/internal/slots"
)

// Logger defines the logging interface used by the package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Hub is the capability registry buttons are bound to.
type Hub interface {
	GetCapability(ctx context.Context, deviceID, capability string) (any, error)
	SetCapability(ctx context.Context, deviceID, capability string, value any) error
	ReportCapability(ctx context.Context, deviceID, capability string, value any) error
	GetVariable(ctx context.Context, name string) (any, error)
	SetVariable(ctx context.Context, name string, value any) error
}

// Publisher sends messages to a broker. Failures are the publisher's to log.
type Publisher interface {
	Publish(brokerID, topic string, payload any, opts broker.PublishOptions)
}

// TriggerSink receives automation triggers.
type TriggerSink interface {
	Fire(ctx context.Context, e flow.Event)
}

// EventRecorder keeps a history of panel events.
type EventRecorder interface {
	RecordPanelEvent(ev influxdb.PanelEvent)
}

// ControllerDeps are the collaborators of a Controller. Events and Logger
// may be nil.
type ControllerDeps struct {
	Hub       Hub
	Publisher Publisher
	Slots     SlotSource
	Triggers  TriggerSink
	Scheduler *Scheduler
	Events    EventRecorder
	Logger    Logger
}

// ControllerOptions tune button timing.
type ControllerOptions struct {
	Vendor string
	// LongPressDebounce drops long-press events closer together than this.
	LongPressDebounce time.Duration
	// ReleaseRevertDelay is how long a momentary virtual button stays lit
	// after release.
	ReleaseRevertDelay time.Duration
	Now                func() time.Time
}

const (
	defaultLongPressDebounce  = 500 * time.Millisecond
	defaultReleaseRevertDelay = 500 * time.Millisecond
)

type buttonKey struct {
	Connector int
	Side      slots.Side
	Page      int
}

type buttonState struct {
	value       bool
	known       bool
	repeats     int
	lastLong    time.Time
	coverPaused bool
	revertGen   uint64
}

// Controller owns the live state of one panel.
type Controller struct {
	deps ControllerDeps
	opts ControllerOptions

	mu      sync.Mutex
	panel   Panel
	page    int
	buttons map[buttonKey]*buttonState
}

// NewController creates the controller for p. The page starts at 1 until
// the panel reports otherwise.
func NewController(p Panel, deps ControllerDeps, opts ControllerOptions) *Controller {
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = NewScheduler()
	}
	if opts.LongPressDebounce <= 0 {
		opts.LongPressDebounce = defaultLongPressDebounce
	}
	if opts.ReleaseRevertDelay <= 0 {
		opts.ReleaseRevertDelay = defaultReleaseRevertDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		deps:    deps,
		opts:    opts,
		panel:   p,
		page:    1,
		buttons: make(map[buttonKey]*buttonState),
	}
}

// Panel returns the panel as last set.
func (c *Controller) Panel() Panel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.panel
}

// SetPanel replaces the panel record, dropping button state of connectors
// whose type or slot changed.
func (c *Controller) SetPanel(p Panel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.buttons {
		if c.panel.Connectors[k.Connector] != p.Connectors[k.Connector] {
			delete(c.buttons, k)
			c.deps.Scheduler.Cancel(c.taskKey(k, TaskRevert))
		}
	}
	c.panel = p
}

// ButtonValue returns the lit state of a button and whether it is known.
func (c *Controller) ButtonValue(connector int, side slots.Side, page int) (value, known bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.buttons[buttonKey{connector, side, page}]
	if !ok {
		return false, false
	}
	return st.value, st.known
}

func (c *Controller) topics() Topics {
	return Topics{Vendor: c.opts.Vendor, PanelID: c.panel.ID}
}

func (c *Controller) taskKey(k buttonKey, kind TaskKind) TaskKey {
	return TaskKey{PanelID: c.panel.ID, Connector: k.Connector, Side: k.Side, Page: k.Page, Kind: kind}
}

func (c *Controller) state(k buttonKey) *buttonState {
	st, ok := c.buttons[k]
	if !ok {
		st = &buttonState{}
		c.buttons[k] = st
	}
	return st
}

// sideConfig resolves the slot configuration for a button. Caller holds c.mu.
func (c *Controller) sideConfig(k buttonKey) (slots.ButtonSide, bool) {
	conn := c.panel.Connectors[k.Connector]
	if conn.Type != ConnectorButtonBar || conn.Slot == NoSlot {
		return slots.ButtonSide{}, false
	}
	slot, err := c.deps.Slots.ButtonSlot(conn.Slot)
	if err != nil {
		return slots.ButtonSide{}, false
	}
	pg, ok := slot.Page(k.Page)
	if !ok {
		return slots.ButtonSide{}, false
	}
	return pg.Side(k.Side), true
}

// activePage reports whether wire page p is the one on screen.
func (c *Controller) activePage(p int) bool {
	if !c.panel.Version().Paged() {
		return p == 0
	}
	return p == c.page-1
}

func (c *Controller) fire(ctx context.Context, trigger string, tokens map[string]any) {
	if c.deps.Triggers == nil {
		return
	}
	c.deps.Triggers.Fire(ctx, flow.Event{PanelID: c.panel.ID, Trigger: trigger, Tokens: tokens})
}

func (c *Controller) fireButton(ctx context.Context, k buttonKey, trigger string, extra map[string]any) {
	tokens := flow.ButtonTokens(k.Connector, string(k.Side), k.Page)
	for name, v := range extra {
		tokens[name] = v
	}
	c.fire(ctx, trigger, tokens)
}

func (c *Controller) fireOnOff(ctx context.Context, k buttonKey, on bool) {
	if on {
		c.fireButton(ctx, k, flow.ButtonOn, nil)
	} else {
		c.fireButton(ctx, k, flow.ButtonOff, nil)
	}
}

func (c *Controller) record(event string, connector int, side slots.Side, page int, value any) {
	if c.deps.Events == nil {
		return
	}
	c.deps.Events.RecordPanelEvent(influxdb.PanelEvent{
		PanelID:   c.panel.ID,
		Event:     event,
		Connector: connector,
		Side:      string(side),
		Page:      page,
		Value:     value,
		Time:      c.opts.Now(),
	})
}

// invalidBinding reports a binding failure on the panel's info capability.
// Caller holds c.mu.
func (c *Controller) invalidBinding(ctx context.Context, side slots.ButtonSide, cause error) error {
	err := fmt.Errorf("%w: %s.%s: %w", ErrInvalidBinding, side.Device, side.Capability, cause)
	c.deps.Logger.Warn("button binding unusable", "panel", c.panel.ID, "error", err)
	c.reportWarning(ctx, err.Error())
	return err
}

func (c *Controller) reportWarning(ctx context.Context, msg string) {
	if err := c.deps.Hub.ReportCapability(ctx, c.panel.ID, hub.CapInfo, msg); err != nil {
		c.deps.Logger.Debug("panel info not updated", "panel", c.panel.ID, "error", err)
	}
}

// ReportWarning stores msg on the panel's info capability.
func (c *Controller) ReportWarning(ctx context.Context, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reportWarning(ctx, msg)
}

// labelFor picks the label text for a lit or unlit button, falling back to
// the other text when one is empty.
func labelFor(side slots.ButtonSide, lit bool) string {
	if lit && side.OnText != "" {
		return side.OnText
	}
	if !lit && side.OffText != "" {
		return side.OffText
	}
	if side.OffText != "" {
		return side.OffText
	}
	return side.OnText
}

// present publishes label, LED and mirror value for a button. Buttons on
// an inactive page are left alone. Caller holds c.mu.
func (c *Controller) present(k buttonKey, side slots.ButtonSide, lit bool, mirror any) {
	if !c.activePage(k.Page) {
		return
	}
	fw := c.panel.Version()
	t := c.topics()
	idx := ButtonIndex(k.Connector, k.Side)
	bid := side.BrokerID
	pub := c.deps.Publisher

	valueTopic, labelTopic := sideMirror(c.panel.ID, idx, k.Page, side)
	pub.Publish(bid, valueTopic, mirror, broker.Retained)

	label := labelFor(side, lit)
	if !fw.HardwareProtocol() {
		pub.Publish(bid, labelTopic, label, broker.Retained)
	} else {
		pub.Publish(bid, t.Label(idx, k.Page), label, broker.Retained)
		if side.TopLabel != "" {
			pub.Publish(bid, t.TopLabel(idx, k.Page), side.TopLabel, broker.Retained)
		}
	}
	if fw.RGBLEDs() {
		front, wall := side.FrontLEDOff, side.WallLEDOff
		if lit {
			front, wall = side.FrontLEDOn, side.WallLEDOn
		}
		pub.Publish(bid, t.LEDFront(idx, k.Page), front, broker.Retained)
		pub.Publish(bid, t.LEDWall(idx, k.Page), wall, broker.Retained)
		return
	}
	pub.Publish(bid, t.Value(idx, k.Page), lit, broker.Retained)
}
