package hub

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

const eventBuffer = 256

// Registry caches devices and logic variables and fans out value changes.
//
// All public methods are thread-safe.
type Registry struct {
	repo   Repository
	logger Logger

	mu      sync.RWMutex
	devices map[string]*Device
	vars    map[string]any

	listenerMu sync.RWMutex
	listeners  map[int]func(Change)
	nextID     int

	events chan Change
}

// NewRegistry creates a registry backed by repo. Call RefreshCache to load
// persisted devices and Run to start change delivery.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:      repo,
		logger:    noopLogger{},
		devices:   make(map[string]*Device),
		vars:      make(map[string]any),
		listeners: make(map[int]func(Change)),
		events:    make(chan Change, eventBuffer),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads devices and variables from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}
	vars, err := r.repo.ListVariables(ctx)
	if err != nil {
		return fmt.Errorf("loading variables: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[string]*Device, len(devices))
	for i := range devices {
		r.devices[devices[i].ID] = devices[i].DeepCopy()
	}
	r.vars = vars
	r.logger.Info("hub cache refreshed", "devices", len(devices), "variables", len(vars))
	return nil
}

// Run delivers change events to subscribers until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-r.events:
			r.deliver(c)
		}
	}
}

func (r *Registry) deliver(c Change) {
	r.listenerMu.RLock()
	fns := make([]func(Change), 0, len(r.listeners))
	ids := make([]int, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, r.listeners[id])
	}
	r.listenerMu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("hub listener panic recovered", "capability", c.Capability, "panic", p)
				}
			}()
			fn(c)
		}()
	}
}

// Subscribe registers fn for every change. The returned func unsubscribes.
func (r *Registry) Subscribe(fn func(Change)) (cancel func()) {
	r.listenerMu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.listenerMu.Unlock()

	return func() {
		r.listenerMu.Lock()
		delete(r.listeners, id)
		r.listenerMu.Unlock()
	}
}

func (r *Registry) emit(c Change) {
	select {
	case r.events <- c:
	default:
		r.logger.Warn("hub event queue full, change dropped",
			"device", c.DeviceID, "capability", c.Capability)
	}
}

// GetDevice returns a deep copy of the device.
func (r *Registry) GetDevice(_ context.Context, id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d.DeepCopy(), nil
}

// ListDevices returns deep copies of all devices ordered by name, then id.
func (r *Registry) ListDevices(_ context.Context) []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d.DeepCopy())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CreateDevice validates and stores a new device.
func (r *Registry) CreateDevice(ctx context.Context, d Device) (*Device, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	cp := d.DeepCopy()
	for name, v := range cp.State {
		def, ok := cp.Capability(name)
		if !ok {
			return nil, fmt.Errorf("%w: state for unknown capability %q", ErrInvalidDevice, name)
		}
		cv, err := coerce(def.Type, v)
		if err != nil {
			return nil, err
		}
		cp.State[name] = cv
	}
	ts := time.Now().UTC()
	cp.CreatedAt, cp.UpdatedAt = ts, ts

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[cp.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDeviceExists, cp.ID)
	}
	if err := r.repo.Create(ctx, cp); err != nil {
		return nil, err
	}
	r.devices[cp.ID] = cp
	r.logger.Info("device created", "device", cp.ID, "capabilities", len(cp.Capabilities))
	return cp.DeepCopy(), nil
}

// EnsureDevice creates d if missing, otherwise adds any capabilities d
// declares that the stored device lacks and refreshes its name.
// Existing values are kept.
func (r *Registry) EnsureDevice(ctx context.Context, d Device) (*Device, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	existing, ok := r.devices[d.ID]
	if !ok {
		r.mu.Unlock()
		created, err := r.CreateDevice(ctx, d)
		if err == nil || !isExists(err) {
			return created, err
		}
		return r.EnsureDevice(ctx, d)
	}
	defer r.mu.Unlock()

	updated := existing.DeepCopy()
	dirty := updated.Name != d.Name
	updated.Name = d.Name
	for _, c := range d.Capabilities {
		if _, has := updated.Capability(c.Name); !has {
			updated.Capabilities = append(updated.Capabilities, c)
			dirty = true
		}
	}
	if !dirty {
		return existing.DeepCopy(), nil
	}
	updated.UpdatedAt = time.Now().UTC()
	if err := r.repo.Update(ctx, updated); err != nil {
		return nil, err
	}
	r.devices[d.ID] = updated
	return updated.DeepCopy(), nil
}

func isExists(err error) bool {
	return errors.Is(err, ErrDeviceExists)
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if err := r.repo.Delete(ctx, id); err != nil && !isNotFound(err) {
		return err
	}
	delete(r.devices, id)
	r.logger.Info("device deleted", "device", id)
	return nil
}

// GetCapability returns the current value of a capability, or nil when it
// has never been set.
func (r *Registry) GetCapability(_ context.Context, deviceID, capability string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	if _, ok := d.Capability(capability); !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrCapabilityNotFound, deviceID, capability)
	}
	return d.State[capability], nil
}

// SetCapability writes a setable capability, as a user or automation would.
func (r *Registry) SetCapability(ctx context.Context, deviceID, capability string, value any) error {
	return r.write(ctx, deviceID, capability, value, true)
}

// ReportCapability records a value reported by the device itself, so it is
// allowed on read-only capabilities.
func (r *Registry) ReportCapability(ctx context.Context, deviceID, capability string, value any) error {
	return r.write(ctx, deviceID, capability, value, false)
}

func (r *Registry) write(ctx context.Context, deviceID, capability string, value any, requireSetable bool) error {
	r.mu.Lock()
	d, ok := r.devices[deviceID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	def, ok := d.Capability(capability)
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s.%s", ErrCapabilityNotFound, deviceID, capability)
	}
	if requireSetable && !def.Setable {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s.%s", ErrNotSetable, deviceID, capability)
	}
	v, err := coerce(def.Type, value)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if prev, had := d.State[capability]; had && reflect.DeepEqual(prev, v) {
		r.mu.Unlock()
		return nil
	}

	next := d.DeepCopy()
	next.State[capability] = v
	next.UpdatedAt = time.Now().UTC()
	if err := r.repo.UpdateState(ctx, deviceID, next.State); err != nil {
		r.mu.Unlock()
		return err
	}
	r.devices[deviceID] = next
	r.mu.Unlock()

	r.logger.Debug("capability changed", "device", deviceID, "capability", capability, "value", v)
	r.emit(Change{DeviceID: deviceID, Capability: capability, Value: v})
	return nil
}

// GetVariable returns the value of a logic variable.
func (r *Registry) GetVariable(_ context.Context, name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVariableNotFound, name)
	}
	return v, nil
}

// ListVariables returns a copy of all logic variables.
func (r *Registry) ListVariables(_ context.Context) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.vars))
	for k, v := range r.vars {
		out[k] = v
	}
	return out
}

// SetVariable creates or updates a logic variable.
func (r *Registry) SetVariable(ctx context.Context, name string, value any) error {
	if name == "" {
		return fmt.Errorf("%w: empty variable name", ErrInvalidValue)
	}
	v := canonical(value)

	r.mu.Lock()
	if prev, ok := r.vars[name]; ok && reflect.DeepEqual(prev, v) {
		r.mu.Unlock()
		return nil
	}
	if err := r.repo.SaveVariable(ctx, name, v); err != nil {
		r.mu.Unlock()
		return err
	}
	r.vars[name] = v
	r.mu.Unlock()

	r.emit(Change{Capability: name, Value: v, Variable: true})
	return nil
}
