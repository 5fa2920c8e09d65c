package flow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/panelsync/internal/broker"
	"github.com/nerrad567/panelsync/internal/infrastructure/mqtt"
)

// Trigger names.
const (
	ButtonOn          = "button_on"
	ButtonOff         = "button_off"
	ButtonChanged     = "button_changed"
	ButtonLongPressed = "button_long_pressed"
	ButtonReleased    = "button_released"
	PageChanged       = "page_changed"
	PanelSynced       = "panel_synced"
)

// WSChannel is the websocket channel triggers are broadcast on.
const WSChannel = "flow.trigger"

// Event is one trigger firing.
type Event struct {
	ID      string         `json:"id"`
	PanelID string         `json:"panel_id"`
	Trigger string         `json:"trigger"`
	Tokens  map[string]any `json:"tokens,omitempty"`
	Time    time.Time      `json:"time"`
}

// ButtonTokens builds the tokens for a button trigger. connector is
// 0-based; the token is 1-based as users see it.
func ButtonTokens(connector int, side string, page int) map[string]any {
	return map[string]any{
		"connector":  connector + 1,
		"left_right": side,
		"page":       page,
	}
}

// Publisher publishes to a broker.
type Publisher interface {
	Publish(brokerID, topic string, payload any, opts broker.PublishOptions)
}

// Broadcaster pushes a message to websocket subscribers of a channel.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Recorder stores trigger history.
type Recorder interface {
	RecordTrigger(panelID, trigger string, at time.Time)
}

// Logger defines the logging interface used by the dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// Dispatcher fans trigger events out to its sinks.
type Dispatcher struct {
	pub    Publisher
	ws     Broadcaster
	rec    Recorder
	logger Logger
	now    func() time.Time

	mu        sync.RWMutex
	listeners []func(Event)
}

// NewDispatcher creates a dispatcher. Any sink may be nil.
func NewDispatcher(pub Publisher, ws Broadcaster, rec Recorder) *Dispatcher {
	return &Dispatcher{pub: pub, ws: ws, rec: rec, logger: noopLogger{}, now: time.Now}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetBroadcaster sets the websocket sink once the API server exists.
func (d *Dispatcher) SetBroadcaster(ws Broadcaster) {
	d.mu.Lock()
	d.ws = ws
	d.mu.Unlock()
}

// Subscribe registers fn for every fired event.
func (d *Dispatcher) Subscribe(fn func(Event)) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// Fire delivers e to every sink. ID and Time are filled in when empty.
func (d *Dispatcher) Fire(_ context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = d.now().UTC()
	}
	d.logger.Info("flow trigger", "panel", e.PanelID, "trigger", e.Trigger, "tokens", e.Tokens)

	d.mu.RLock()
	ws := d.ws
	listeners := append([]func(Event){}, d.listeners...)
	d.mu.RUnlock()

	if ws != nil {
		ws.Broadcast(WSChannel, e)
	}
	if d.pub != nil {
		d.pub.Publish(broker.DefaultAlias, mqtt.Topics{}.FlowTrigger(e.PanelID, e.Trigger), e, broker.Transient)
	}
	if d.rec != nil {
		d.rec.RecordTrigger(e.PanelID, e.Trigger, e.Time)
	}
	for _, fn := range listeners {
		fn(e)
	}
}
