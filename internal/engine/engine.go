package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/panelsync/internal/broker"
	"github.com/nerrad567/panelsync/internal/flow"
	"github.com/nerrad567/panelsync/internal/hub"
	"github.com/nerrad567/panelsync/internal/infrastructure/influxdb"
	"github.com/nerrad567/panelsync/internal/panel"
	"github.com/nerrad567/panelsync/internal/slots"
)

// Logger defines the logging interface used by the engine.
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

// Broadcaster pushes live events to websocket clients.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Recorder keeps event history.
type Recorder interface {
	RecordPanelEvent(ev influxdb.PanelEvent)
	RecordSync(out influxdb.SyncOutcome)
}

// Websocket channels the engine broadcasts on.
const (
	ChannelButton = "panel.button"
	ChannelSync   = "panel.sync"
)

const handlerTimeout = 10 * time.Second

// Deps are the engine's collaborators. Recorder and WS may be nil.
type Deps struct {
	Brokers      *broker.Registry
	Slots        *slots.Store
	Hub          *hub.Registry
	Panels       *panel.Manager
	Synchronizer *panel.Synchronizer
	Scheduler    *panel.Scheduler
	Triggers     *flow.Dispatcher
	Recorder     Recorder
	WS           Broadcaster
	Logger       Logger
}

// Options tune the engine.
type Options struct {
	Vendor             string
	LongPressDebounce  time.Duration
	ReleaseRevertDelay time.Duration
	// RefreshInterval republishes the active page of every panel; zero
	// disables the loop.
	RefreshInterval time.Duration
}

type syncState struct {
	running bool
	queued  bool
}

// Engine is the running sync and routing service.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Engine struct {
	deps Deps
	opts Options

	mu          sync.RWMutex
	controllers map[string]*panel.Controller
	syncs       map[string]*syncState
	ws          Broadcaster
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool

	wg       sync.WaitGroup
	unsubHub func()
}

// New creates an engine. Call Start to begin routing.
func New(deps Deps, opts Options) *Engine {
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = panel.NewScheduler()
	}
	return &Engine{
		deps:        deps,
		opts:        opts,
		ws:          deps.WS,
		controllers: make(map[string]*panel.Controller),
		syncs:       make(map[string]*syncState),
	}
}

// SetBroadcaster sets the websocket sink once the API server exists.
func (e *Engine) SetBroadcaster(ws Broadcaster) {
	e.mu.Lock()
	e.ws = ws
	e.mu.Unlock()
}

func (e *Engine) broadcast(channel string, payload any) {
	e.mu.RLock()
	ws := e.ws
	e.mu.RUnlock()
	if ws != nil {
		ws.Broadcast(channel, payload)
	}
}

// Start creates controllers for every known panel, subscribes to the bus
// and the hub, and queues a sync of every panel.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already started")
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	for _, p := range e.deps.Panels.List() {
		e.ensureController(p)
	}
	e.deps.Panels.EnsureHubDevices(e.ctx)

	for _, topic := range panel.VendorSubscriptions(e.opts.Vendor) {
		e.deps.Brokers.SubscribeAll(topic, e.HandleMessage)
	}
	for _, topic := range panel.LegacySubscriptions() {
		e.deps.Brokers.SubscribeAll(topic, e.HandleMessage)
	}
	e.deps.Brokers.SubscribeAll(panel.CapabilitySetFilter, e.HandleMessage)

	e.unsubHub = e.deps.Hub.Subscribe(e.propagate)
	e.deps.Slots.OnChange(e.onSlotChange)
	e.deps.Brokers.OnChange(e.onBrokerChange)
	e.deps.Panels.OnChange(e.onPanelChange)

	if e.opts.RefreshInterval > 0 {
		e.wg.Add(1)
		go e.refreshLoop()
	}

	e.SyncAll()
	e.deps.Logger.Info("engine started", "panels", len(e.deps.Panels.List()), "vendor", e.opts.Vendor)
	return nil
}

// Stop cancels pending timers and waits for running syncs to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.cancel()
	e.mu.Unlock()

	if e.unsubHub != nil {
		e.unsubHub()
	}
	e.deps.Scheduler.Stop()
	e.wg.Wait()
	e.deps.Logger.Info("engine stopped")
}

func (e *Engine) running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.started && !e.stopped
}

func (e *Engine) ensureController(p panel.Panel) *panel.Controller {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.controllers[p.ID]; ok {
		c.SetPanel(p)
		return c
	}
	var events panel.EventRecorder
	if e.deps.Recorder != nil {
		events = e.deps.Recorder
	}
	c := panel.NewController(p, panel.ControllerDeps{
		Hub:       e.deps.Hub,
		Publisher: e.deps.Brokers,
		Slots:     e.deps.Slots,
		Triggers:  e.deps.Triggers,
		Scheduler: e.deps.Scheduler,
		Events:    events,
		Logger:    e.deps.Logger,
	}, panel.ControllerOptions{
		Vendor:             e.opts.Vendor,
		LongPressDebounce:  e.opts.LongPressDebounce,
		ReleaseRevertDelay: e.opts.ReleaseRevertDelay,
	})
	e.controllers[p.ID] = c
	return c
}

// Controller returns the controller of a registered panel.
func (e *Engine) Controller(panelID string) (*panel.Controller, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.controllers[panelID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", panel.ErrPanelNotFound, panelID)
	}
	return c, nil
}

func (e *Engine) controllerList() []*panel.Controller {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*panel.Controller, 0, len(e.controllers))
	for _, c := range e.controllers {
		out = append(out, c)
	}
	return out
}

func (e *Engine) onPanelChange(c panel.Change) {
	switch c.Kind {
	case panel.PanelRemoved:
		e.mu.Lock()
		delete(e.controllers, c.Panel.ID)
		delete(e.syncs, c.Panel.ID)
		e.mu.Unlock()
		e.deps.Synchronizer.Forget(c.Panel.ID)
		return
	default:
		e.ensureController(c.Panel)
	}
	if c.Resync {
		e.RequestSync(c.Panel.ID)
	}
}

func (e *Engine) onSlotChange(ch slots.Change) {
	want := panel.ConnectorButtonBar
	if ch.Kind == slots.KindDisplays {
		want = panel.ConnectorDisplay
	}
	for _, p := range e.deps.Panels.List() {
		for _, idx := range ch.Indices {
			if p.ReferencesSlot(want, idx) {
				e.RequestSync(p.ID)
				break
			}
		}
	}
}

func (e *Engine) onBrokerChange() {
	e.deps.Logger.Info("broker set changed, resyncing all panels")
	e.SyncAll()
}

func (e *Engine) refreshLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			for _, c := range e.controllerList() {
				c.RefreshAll(e.ctx)
			}
		}
	}
}
