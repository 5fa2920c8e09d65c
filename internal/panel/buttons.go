package panel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/panelsync/internal/broker"
	"github.com/nerrad567/panelsync/internal/flow"
	"github.com/nerrad567/panelsync/internal/hub"
	"github.com/nerrad567/panelsync/internal/slots"
)

// ButtonEvent is a decoded press event from a panel.
type ButtonEvent struct {
	Connector int
	Side      slots.Side
	// Page is the 0-based wire page the button is on.
	Page  int
	Event string
}

// HandleButton runs the state machine for one press event.
//
// Events for buttons without a slot, or on a page that is not active on
// paged firmware, are ignored. Binding failures are reported on the
// panel's info capability and returned wrapping ErrInvalidBinding.
func (c *Controller) HandleButton(ctx context.Context, ev ButtonEvent) error {
	if err := CheckConnector(ev.Connector); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	k := buttonKey{Connector: ev.Connector, Side: ev.Side, Page: ev.Page}
	c.record(ev.Event, ev.Connector, ev.Side, ev.Page, nil)

	side, ok := c.sideConfig(k)
	if !ok {
		c.deps.Logger.Debug("button event without slot", "panel", c.panel.ID, "connector", ev.Connector, "side", ev.Side, "page", ev.Page)
		return nil
	}
	if !c.activePage(ev.Page) {
		c.deps.Logger.Debug("button event for inactive page", "panel", c.panel.ID, "page", ev.Page, "active", c.page)
		return nil
	}

	switch ev.Event {
	case EventClick:
		return c.click(ctx, k, side)
	case EventLongPress:
		return c.longPress(ctx, k, side)
	case EventRelease:
		c.release(ctx, k, side)
	case EventShortPress, EventMultiPress:
		// Reported by legacy firmware alongside click; nothing to drive.
	default:
		return fmt.Errorf("unknown button event %q", ev.Event)
	}
	return nil
}

func (c *Controller) cancelRevert(k buttonKey, st *buttonState) {
	st.revertGen++
	c.deps.Scheduler.Cancel(c.taskKey(k, TaskRevert))
}

func (c *Controller) click(ctx context.Context, k buttonKey, side slots.ButtonSide) error {
	st := c.state(k)
	c.cancelRevert(k, st)
	st.repeats = 0
	st.lastLong = time.Time{}
	st.coverPaused = false

	switch {
	case side.IsBound():
		cur, err := c.deps.Hub.GetCapability(ctx, side.Device, side.Capability)
		if err != nil {
			return c.invalidBinding(ctx, side, err)
		}
		switch side.Capability {
		case hub.CapDim:
			next, err := slots.ApplyDimChange(asFloat(cur), side.DimChange)
			if err != nil {
				c.deps.Logger.Warn("bad dim change", "panel", c.panel.ID, "dim_change", side.DimChange, "error", err)
			}
			if err := c.deps.Hub.SetCapability(ctx, side.Device, side.Capability, next); err != nil {
				return c.invalidBinding(ctx, side, err)
			}
			st.value, st.known = false, true
			c.present(k, side, false, MirrorPayload(hub.CapDim, next))
			c.fireButton(ctx, k, flow.ButtonChanged, map[string]any{"value": next})

		case hub.CapWindowCovers:
			next := nextCover(cur)
			if err := c.deps.Hub.SetCapability(ctx, side.Device, side.Capability, next); err != nil {
				return c.invalidBinding(ctx, side, err)
			}
			lit := next == hub.CoverUp
			st.value, st.known = lit, true
			c.present(k, side, lit, lit)
			c.fireOnOff(ctx, k, lit)
			c.fireButton(ctx, k, flow.ButtonChanged, map[string]any{"value": next})

		default:
			next := !asBool(cur)
			if err := c.deps.Hub.SetCapability(ctx, side.Device, side.Capability, next); err != nil {
				return c.invalidBinding(ctx, side, err)
			}
			st.value, st.known = next, true
			c.present(k, side, next, next)
			c.fireOnOff(ctx, k, next)
			c.fireButton(ctx, k, flow.ButtonChanged, map[string]any{"value": next})
		}

	case side.Device == slots.DeviceVariable:
		cur, err := c.deps.Hub.GetVariable(ctx, side.Capability)
		if err != nil && !errors.Is(err, hub.ErrVariableNotFound) {
			return c.invalidBinding(ctx, side, err)
		}
		next := !asBool(cur)
		if err := c.deps.Hub.SetVariable(ctx, side.Capability, next); err != nil {
			return c.invalidBinding(ctx, side, err)
		}
		st.value, st.known = next, true
		c.present(k, side, next, next)
		c.fireOnOff(ctx, k, next)
		c.fireButton(ctx, k, flow.ButtonChanged, map[string]any{"value": next})

	default:
		next := !st.value
		st.value, st.known = next, true
		c.present(k, side, next, next)
		c.fireOnOff(ctx, k, next)
		c.fireButton(ctx, k, flow.ButtonChanged, map[string]any{"value": next})
	}
	return nil
}

func (c *Controller) longPress(ctx context.Context, k buttonKey, side slots.ButtonSide) error {
	st := c.state(k)
	now := c.opts.Now()
	if !st.lastLong.IsZero() && now.Sub(st.lastLong) < c.opts.LongPressDebounce {
		return nil
	}
	st.lastLong = now
	st.repeats++

	if side.IsBound() && side.Capability == hub.CapWindowCovers {
		if st.coverPaused {
			return nil
		}
		if err := c.deps.Hub.SetCapability(ctx, side.Device, side.Capability, hub.CoverIdle); err != nil {
			return c.invalidBinding(ctx, side, err)
		}
		st.coverPaused = true
		c.fireButton(ctx, k, flow.ButtonLongPressed, map[string]any{"repeat": st.repeats})
		return nil
	}

	if st.repeats > 1 && side.DisableRepeat {
		return nil
	}

	if side.IsBound() && side.Capability == hub.CapDim {
		cur, err := c.deps.Hub.GetCapability(ctx, side.Device, side.Capability)
		if err != nil {
			return c.invalidBinding(ctx, side, err)
		}
		next, _ := slots.ApplyDimChange(asFloat(cur), side.DimChange) //nolint:errcheck // clamped current on error
		if err := c.deps.Hub.SetCapability(ctx, side.Device, side.Capability, next); err != nil {
			return c.invalidBinding(ctx, side, err)
		}
		c.present(k, side, false, MirrorPayload(hub.CapDim, next))
	}
	c.fireButton(ctx, k, flow.ButtonLongPressed, map[string]any{"repeat": st.repeats})
	return nil
}

// Repeats returns the long-press repeat count of a held button.
func (c *Controller) Repeats(connector int, side slots.Side, page int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.buttons[buttonKey{connector, side, page}]; ok {
		return st.repeats
	}
	return 0
}

// release ends a press. A latching button or a cover stopped mid-motion
// keeps its state; a bound button follows its capability; anything else
// that is lit is turned off after the revert delay.
func (c *Controller) release(ctx context.Context, k buttonKey, side slots.ButtonSide) {
	st := c.state(k)
	c.fireButton(ctx, k, flow.ButtonReleased, map[string]any{"repeat": st.repeats})

	paused := st.coverPaused
	st.repeats = 0
	st.lastLong = time.Time{}
	st.coverPaused = false

	if side.Latches() || paused {
		return
	}
	if side.IsBound() || side.Device == slots.DeviceVariable || !st.value {
		return
	}

	st.revertGen++
	gen := st.revertGen
	c.deps.Scheduler.Schedule(c.taskKey(k, TaskRevert), c.opts.ReleaseRevertDelay, func() {
		c.revert(k, gen)
	})
}

func (c *Controller) revert(k buttonKey, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.buttons[k]
	if !ok || st.revertGen != gen || !st.value {
		return
	}
	side, ok := c.sideConfig(k)
	if !ok {
		return
	}
	st.value = false
	ctx := context.Background()
	c.present(k, side, false, false)
	c.fireOnOff(ctx, k, false)
	c.fireButton(ctx, k, flow.ButtonChanged, map[string]any{"value": false})
}

// SetButtonState drives a button from an automation action as if its
// value had changed: bound buttons write their capability, the others
// change state directly.
func (c *Controller) SetButtonState(ctx context.Context, connector int, s slots.Side, page int, on bool) error {
	if err := CheckConnector(connector); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	k := buttonKey{Connector: connector, Side: s, Page: page}
	side, ok := c.sideConfig(k)
	if !ok {
		return fmt.Errorf("%w: connector %d page %d has no button slot", ErrInvalidConnector, connector, page)
	}
	st := c.state(k)
	c.cancelRevert(k, st)

	switch {
	case side.IsBound():
		var v any = on
		switch side.Capability {
		case hub.CapDim:
			v = asFloat(on)
		case hub.CapWindowCovers:
			v = hub.CoverDown
			if on {
				v = hub.CoverUp
			}
		}
		if err := c.deps.Hub.SetCapability(ctx, side.Device, side.Capability, v); err != nil {
			return c.invalidBinding(ctx, side, err)
		}
		// The capability echo updates the button.
		return nil
	case side.Device == slots.DeviceVariable:
		if err := c.deps.Hub.SetVariable(ctx, side.Capability, on); err != nil {
			return c.invalidBinding(ctx, side, err)
		}
		return nil
	}

	changed := !st.known || st.value != on
	st.value, st.known = on, true
	c.present(k, side, on, on)
	if changed {
		c.fireButton(ctx, k, flow.ButtonChanged, map[string]any{"value": on})
	}
	return nil
}

// SetButtonLabel overrides a button's label until its state next changes.
func (c *Controller) SetButtonLabel(ctx context.Context, connector int, s slots.Side, page int, label string) error {
	if err := CheckConnector(connector); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	k := buttonKey{Connector: connector, Side: s, Page: page}
	side, ok := c.sideConfig(k)
	if !ok {
		return fmt.Errorf("%w: connector %d page %d has no button slot", ErrInvalidConnector, connector, page)
	}
	idx := ButtonIndex(connector, s)
	topic := c.topics().Label(idx, page)
	if !c.panel.Version().HardwareProtocol() {
		_, topic = sideMirror(c.panel.ID, idx, page, side)
	}
	c.deps.Publisher.Publish(side.BrokerID, topic, label, broker.Retained)
	return nil
}

// OnHubChange updates every button and display item bound to the changed
// capability or variable and republishes their state.
func (c *Controller) OnHubChange(ctx context.Context, ch hub.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ch.Variable && ch.DeviceID == c.panel.ID {
		return
	}
	paged := c.panel.Version().Paged()

	for ci, conn := range c.panel.Connectors {
		if conn.Slot == NoSlot {
			continue
		}
		switch conn.Type {
		case ConnectorButtonBar:
			slot, err := c.deps.Slots.ButtonSlot(conn.Slot)
			if err != nil {
				continue
			}
			for page, pg := range slot.Pages {
				if page > 0 && !paged {
					break
				}
				for _, s := range slots.Sides {
					side := pg.Side(s)
					if !sideMatches(side, ch) {
						continue
					}
					c.applyEcho(ctx, buttonKey{ci, s, page}, side, ch)
				}
			}
		case ConnectorDisplay:
			slot, err := c.deps.Slots.DisplaySlot(conn.Slot)
			if err != nil {
				continue
			}
			for _, it := range slot.Items {
				if displayMatches(it, ch) {
					c.deps.Publisher.Publish(it.BrokerID, MirrorValue(it.Device, it.Capability),
						MirrorPayload(ch.Capability, ch.Value), broker.Retained)
				}
			}
		}
	}
}

func (c *Controller) applyEcho(ctx context.Context, k buttonKey, side slots.ButtonSide, ch hub.Change) {
	st := c.state(k)
	var lit bool
	var mirror any
	if ch.Variable {
		lit = asBool(ch.Value)
		mirror = lit
	} else {
		lit = ButtonState(ch.Capability, ch.Value)
		mirror = MirrorPayload(ch.Capability, ch.Value)
	}
	changed := !st.known || st.value != lit
	st.value, st.known = lit, true
	c.present(k, side, lit, mirror)

	if changed && !ch.Variable && ch.Capability != hub.CapDim && ch.Capability != hub.CapWindowCovers {
		c.fireButton(ctx, k, flow.ButtonChanged, map[string]any{"value": lit})
	}
}

func sideMatches(side slots.ButtonSide, ch hub.Change) bool {
	if ch.Variable {
		return side.Device == slots.DeviceVariable && side.Capability == ch.Capability
	}
	return side.IsBound() && side.References(ch.DeviceID, ch.Capability)
}

func displayMatches(it slots.DisplayItem, ch hub.Change) bool {
	if ch.Variable {
		return it.Device == slots.DeviceVariable && it.Capability == ch.Capability
	}
	return it.References(ch.DeviceID, ch.Capability)
}
