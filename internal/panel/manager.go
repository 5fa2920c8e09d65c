package panel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/nerrad567/panelsync/internal/hub"
	"github.com/nerrad567/panelsync/internal/slots"
)

// DeviceRegistry is the part of the hub a panel is registered with.
type DeviceRegistry interface {
	EnsureDevice(ctx context.Context, d hub.Device) (*hub.Device, error)
	DeleteDevice(ctx context.Context, id string) error
}

// ChangeKind says what happened to a panel.
type ChangeKind string

const (
	PanelAdded   ChangeKind = "added"
	PanelUpdated ChangeKind = "updated"
	PanelRemoved ChangeKind = "removed"
)

// Change is delivered to OnChange listeners after the panel is persisted.
type Change struct {
	Kind  ChangeKind
	Panel Panel
	// Resync is set when the panel's configuration must be pushed again.
	Resync bool
}

// HubClass is the device class panels are registered under.
const HubClass = "panel"

// Manager owns the set of registered panels.
type Manager struct {
	repo      Repository
	client    DeviceClient
	devices   DeviceRegistry
	scheduler *Scheduler
	logger    Logger

	mu        sync.RWMutex
	panels    map[string]Panel
	listeners []func(Change)
}

// NewManager creates a manager. devices and scheduler may be nil.
func NewManager(repo Repository, client DeviceClient, devices DeviceRegistry, scheduler *Scheduler) *Manager {
	return &Manager{
		repo:      repo,
		client:    client,
		devices:   devices,
		scheduler: scheduler,
		logger:    noopLogger{},
		panels:    make(map[string]Panel),
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Load reads every panel from the repository into memory.
func (m *Manager) Load(ctx context.Context) error {
	list, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading panels: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panels = make(map[string]Panel, len(list))
	for _, p := range list {
		m.panels[p.ID] = p
	}
	m.logger.Info("panels loaded", "count", len(list))
	return nil
}

// OnChange registers fn to run after every panel change.
func (m *Manager) OnChange(fn func(Change)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Manager) notify(c Change) {
	m.mu.RLock()
	listeners := slices.Clone(m.listeners)
	m.mu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}

// List returns all panels ordered by name then id.
func (m *Manager) List() []Panel {
	m.mu.RLock()
	out := make([]Panel, 0, len(m.panels))
	for _, p := range m.panels {
		out = append(out, p)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b Panel) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Get returns the panel with id.
func (m *Manager) Get(id string) (Panel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.panels[id]
	if !ok {
		return Panel{}, fmt.Errorf("%w: %s", ErrPanelNotFound, id)
	}
	return p, nil
}

// Register adds a discovered panel. The panel's configuration is read to
// capture mac, firmware and the connector types it reports; a panel that
// cannot be reached is still registered with unconfigured connectors.
func (m *Manager) Register(ctx context.Context, d Discovered) (Panel, error) {
	p := Panel{
		ID:         strings.TrimSpace(d.ID),
		Name:       "Panel " + strings.TrimSpace(d.ID),
		Address:    strings.TrimSpace(d.Address),
		Connectors: unconfiguredConnectors(),
	}
	if err := p.Validate(); err != nil {
		return Panel{}, err
	}
	if _, err := m.Get(p.ID); err == nil {
		return Panel{}, fmt.Errorf("%w: %s", ErrPanelExists, p.ID)
	}

	if doc, err := m.client.ReadConfig(ctx, p.Address); err != nil {
		m.logger.Warn("panel config not readable at registration", "panel", p.ID, "address", p.Address, "error", err)
	} else {
		p.Mac = doc.Info.Mac
		p.Firmware = doc.Info.Firmware
		for _, c := range doc.Info.Connectors {
			if CheckConnector(c.ID) == nil {
				p.Connectors[c.ID].Type = connectorTypeFromWire(c.Type)
			}
		}
	}

	if err := m.repo.Create(ctx, &p); err != nil {
		if errors.Is(err, ErrPanelExists) {
			return Panel{}, fmt.Errorf("%w: %s", err, p.ID)
		}
		return Panel{}, fmt.Errorf("creating panel: %w", err)
	}
	m.mu.Lock()
	m.panels[p.ID] = p
	m.mu.Unlock()

	if err := m.ensureHubDevice(ctx, p); err != nil {
		m.logger.Warn("panel hub device not created", "panel", p.ID, "error", err)
	}
	m.logger.Info("panel registered", "panel", p.ID, "address", p.Address, "firmware", p.Firmware)
	m.notify(Change{Kind: PanelAdded, Panel: p, Resync: true})
	return p, nil
}

// EnsureHubDevices registers every known panel with the hub. Panels added
// before the hub database was reset get their device back this way.
func (m *Manager) EnsureHubDevices(ctx context.Context) {
	for _, p := range m.List() {
		if err := m.ensureHubDevice(ctx, p); err != nil {
			m.logger.Warn("panel hub device not created", "panel", p.ID, "error", err)
		}
	}
}

func (m *Manager) ensureHubDevice(ctx context.Context, p Panel) error {
	if m.devices == nil {
		return nil
	}
	_, err := m.devices.EnsureDevice(ctx, hub.Device{
		ID:    p.ID,
		Name:  p.Name,
		Class: HubClass,
		Capabilities: []hub.CapabilityDef{
			{Name: hub.CapInfo, Type: hub.TypeString},
			{Name: hub.CapPage, Type: hub.TypeNumber},
			{Name: hub.CapTemperature, Type: hub.TypeNumber},
			{Name: hub.CapBrightness, Type: hub.TypeNumber},
		},
	})
	return err
}

// RegisterDiscovered registers every discovered panel not already known and
// returns the new panels. Failures are logged and skipped.
func (m *Manager) RegisterDiscovered(ctx context.Context, found []Discovered) []Panel {
	var added []Panel
	for _, d := range found {
		if _, err := m.Get(strings.TrimSpace(d.ID)); err == nil {
			continue
		}
		p, err := m.Register(ctx, d)
		if err != nil {
			m.logger.Warn("discovered panel not registered", "panel", d.ID, "address", d.Address, "error", err)
			continue
		}
		added = append(added, p)
	}
	return added
}

func (m *Manager) update(ctx context.Context, id string, resync bool, fn func(p *Panel) error) (Panel, error) {
	m.mu.Lock()
	p, ok := m.panels[id]
	if !ok {
		m.mu.Unlock()
		return Panel{}, fmt.Errorf("%w: %s", ErrPanelNotFound, id)
	}
	if err := fn(&p); err != nil {
		m.mu.Unlock()
		return Panel{}, err
	}
	if err := p.Validate(); err != nil {
		m.mu.Unlock()
		return Panel{}, err
	}
	if err := m.repo.Update(ctx, &p); err != nil {
		m.mu.Unlock()
		return Panel{}, fmt.Errorf("updating panel %s: %w", id, err)
	}
	m.panels[id] = p
	m.mu.Unlock()

	m.notify(Change{Kind: PanelUpdated, Panel: p, Resync: resync})
	return p, nil
}

// AssignConnector sets the type and slot of one connector. slot is NoSlot
// to clear the assignment.
func (m *Manager) AssignConnector(ctx context.Context, id string, connector int, t ConnectorType, slot int) (Panel, error) {
	if err := CheckConnector(connector); err != nil {
		return Panel{}, err
	}
	if slot < NoSlot || slot >= slots.MaxConfigurations {
		return Panel{}, fmt.Errorf("%w: %d", slots.ErrInvalidConfigIndex, slot)
	}
	if _, err := ParseConnectorType(string(t)); err != nil {
		return Panel{}, err
	}
	if t == ConnectorUnconfigured {
		slot = NoSlot
	}
	return m.update(ctx, id, true, func(p *Panel) error {
		p.Connectors[connector] = Connector{Type: t, Slot: slot}
		return nil
	})
}

// Rename changes a panel's display name.
func (m *Manager) Rename(ctx context.Context, id, name string) (Panel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Panel{}, fmt.Errorf("%w: name is required", ErrInvalidPanel)
	}
	p, err := m.update(ctx, id, false, func(p *Panel) error {
		p.Name = name
		return nil
	})
	if err == nil {
		if err := m.ensureHubDevice(ctx, p); err != nil {
			m.logger.Warn("panel hub device not renamed", "panel", id, "error", err)
		}
	}
	return p, err
}

// SetAddress records a new network address for the panel.
func (m *Manager) SetAddress(ctx context.Context, id, address string) (Panel, error) {
	return m.update(ctx, id, true, func(p *Panel) error {
		p.Address = strings.TrimSpace(address)
		return nil
	})
}

// UpdateFirmwareVersion records the firmware a panel reported. Nothing is
// written when the version is unchanged; a change triggers a resync since
// the protocol shape depends on it.
func (m *Manager) UpdateFirmwareVersion(ctx context.Context, id, fw string) (Panel, error) {
	fw = strings.TrimSpace(fw)
	cur, err := m.Get(id)
	if err != nil {
		return Panel{}, err
	}
	if fw == "" || cur.Firmware == fw {
		return cur, nil
	}
	m.logger.Info("panel firmware changed", "panel", id, "from", cur.Firmware, "to", fw)
	return m.update(ctx, id, true, func(p *Panel) error {
		p.Firmware = fw
		return nil
	})
}

// UpdateFirmware asks the panel to update its firmware.
func (m *Manager) UpdateFirmware(ctx context.Context, id string) error {
	p, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := m.client.UpdateFirmware(ctx, p.Address); err != nil {
		return err
	}
	m.logger.Info("panel firmware update requested", "panel", id)
	return nil
}

// Delete removes a panel, cancelling every scheduled task it owns and
// removing its hub device.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	p, ok := m.panels[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPanelNotFound, id)
	}
	if err := m.repo.Delete(ctx, id); err != nil && !isNotFound(err) {
		m.mu.Unlock()
		return fmt.Errorf("deleting panel %s: %w", id, err)
	}
	delete(m.panels, id)
	m.mu.Unlock()

	if m.scheduler != nil {
		if n := m.scheduler.CancelPanel(id); n > 0 {
			m.logger.Debug("cancelled panel tasks", "panel", id, "count", n)
		}
	}
	if m.devices != nil {
		if err := m.devices.DeleteDevice(ctx, id); err != nil && !errors.Is(err, hub.ErrDeviceNotFound) {
			m.logger.Warn("panel hub device not deleted", "panel", id, "error", err)
		}
	}
	m.logger.Info("panel deleted", "panel", id)
	m.notify(Change{Kind: PanelRemoved, Panel: p})
	return nil
}
