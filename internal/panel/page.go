package panel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/panelsync/internal/broker"
	"github.com/nerrad567/panelsync/internal/flow"
	"github.com/nerrad567/panelsync/internal/hub"
	"github.com/nerrad567/panelsync/internal/slots"
)

// ErrInvalidPage is returned for page numbers a panel cannot show.
var ErrInvalidPage = errors.New("panel: invalid page")

// Page returns the active page, 1-based.
func (c *Controller) Page() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// OnPageState handles the panel reporting its page (0-based on the wire).
// Only the page capability changes and the newly active page is
// republished; other pages are not touched.
func (c *Controller) OnPageState(ctx context.Context, wirePage int) error {
	if wirePage < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPage, wirePage)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	page := wirePage + 1
	if page == c.page {
		return nil
	}
	c.page = page
	c.record("page", -1, "", wirePage, page)
	if err := c.deps.Hub.ReportCapability(ctx, c.panel.ID, hub.CapPage, float64(page)); err != nil {
		c.deps.Logger.Debug("page capability not updated", "panel", c.panel.ID, "error", err)
	}
	c.fire(ctx, flow.PageChanged, map[string]any{"page": page})
	c.presentActive(ctx)
	return nil
}

// SetPage asks the panel to show page (1-based).
func (c *Controller) SetPage(_ context.Context, page int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if page < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPage, page)
	}
	if !c.panel.Version().Paged() && page != 1 {
		return fmt.Errorf("%w: firmware %q has a single page", ErrInvalidPage, c.panel.Firmware)
	}
	c.deps.Publisher.Publish(broker.DefaultAlias, c.topics().PageSet(), strconv.Itoa(page-1), broker.Transient)
	return nil
}

// SetBrightness sets the panel brightness (0-100).
func (c *Controller) SetBrightness(_ context.Context, value int) error {
	if value < 0 || value > 100 {
		return fmt.Errorf("brightness %d out of range 0-100", value)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deps.Publisher.Publish(broker.DefaultAlias, c.topics().BrightnessSet(), strconv.Itoa(value), broker.Transient)
	return nil
}

func parseNumber(payload []byte) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
}

// OnSensor records a sensor reading on the panel's temperature capability.
func (c *Controller) OnSensor(ctx context.Context, n int, payload []byte) error {
	v, err := parseNumber(payload)
	if err != nil {
		return fmt.Errorf("sensor %d payload %q: %w", n, payload, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("sensor", -1, "", 0, v)
	return c.deps.Hub.ReportCapability(ctx, c.panel.ID, hub.CapTemperature, v)
}

// OnBrightness records a brightness report. The large display brightness
// is the panel's brightness capability.
func (c *Controller) OnBrightness(ctx context.Context, kind string, payload []byte) error {
	v, err := parseNumber(payload)
	if err != nil {
		return fmt.Errorf("brightness %s payload %q: %w", kind, payload, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("brightness_"+kind, -1, "", 0, v)
	if kind != BrightnessLarge {
		return nil
	}
	return c.deps.Hub.ReportCapability(ctx, c.panel.ID, hub.CapBrightness, v)
}

// RefreshAll republishes the active page of every button bar and the
// value of every display item. Unchanged values are dropped by the
// publisher's de-duplication.
func (c *Controller) RefreshAll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presentActive(ctx)

	for _, conn := range c.panel.Connectors {
		if conn.Type != ConnectorDisplay || conn.Slot == NoSlot {
			continue
		}
		slot, err := c.deps.Slots.DisplaySlot(conn.Slot)
		if err != nil {
			continue
		}
		for _, it := range slot.Items {
			v, ok := c.displayValue(ctx, it)
			if !ok {
				continue
			}
			c.deps.Publisher.Publish(it.BrokerID, MirrorValue(it.Device, it.Capability),
				MirrorPayload(it.Capability, v), broker.Retained)
		}
	}
}

func (c *Controller) displayValue(ctx context.Context, it slots.DisplayItem) (any, bool) {
	switch it.Device {
	case "", slots.DeviceNone, slots.DeviceCustomMQTT:
		return nil, false
	case slots.DeviceVariable:
		v, err := c.deps.Hub.GetVariable(ctx, it.Capability)
		return v, err == nil
	}
	v, err := c.deps.Hub.GetCapability(ctx, it.Device, it.Capability)
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}

// presentActive republishes every button on the active page. Buttons whose
// state is not yet known are read from the hub. Caller holds c.mu.
func (c *Controller) presentActive(ctx context.Context) {
	page := 0
	if c.panel.Version().Paged() {
		page = c.page - 1
	}
	for ci, conn := range c.panel.Connectors {
		if conn.Type != ConnectorButtonBar || conn.Slot == NoSlot {
			continue
		}
		for _, s := range slots.Sides {
			k := buttonKey{ci, s, page}
			side, ok := c.sideConfig(k)
			if !ok {
				continue
			}
			lit, mirror := c.currentValue(ctx, k, side)
			c.present(k, side, lit, mirror)
		}
	}
}

// currentValue returns a button's lit state and mirror payload, reading
// bound values from the hub. Caller holds c.mu.
func (c *Controller) currentValue(ctx context.Context, k buttonKey, side slots.ButtonSide) (bool, any) {
	st := c.state(k)
	switch {
	case side.IsBound():
		v, err := c.deps.Hub.GetCapability(ctx, side.Device, side.Capability)
		if err != nil {
			return st.value, st.value
		}
		st.value, st.known = ButtonState(side.Capability, v), true
		return st.value, MirrorPayload(side.Capability, v)
	case side.Device == slots.DeviceVariable:
		if v, err := c.deps.Hub.GetVariable(ctx, side.Capability); err == nil {
			st.value, st.known = asBool(v), true
		}
	}
	return st.value, st.value
}
