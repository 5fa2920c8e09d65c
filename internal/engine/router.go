package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/panelsync/internal/hub"
	"github.com/nerrad567/panelsync/internal/panel"
	"github.com/nerrad567/panelsync/internal/slots"
)

// ErrUnroutable is returned for messages no handler accepts.
var ErrUnroutable = errors.New("engine: unroutable message")

// ButtonMessage is broadcast for every decoded press event.
type ButtonMessage struct {
	PanelID   string `json:"panel_id"`
	Connector int    `json:"connector"`
	Side      string `json:"side"`
	Page      int    `json:"page"`
	Event     string `json:"event"`
}

// HandleMessage is the broker handler for every subscribed topic. Errors
// and panics are logged here so one bad message never stops the router.
func (e *Engine) HandleMessage(brokerID, topic string, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.deps.Logger.Error("panic routing message", "broker", brokerID, "topic", topic, "panic", r)
		}
	}()
	base := context.Background()
	if e.ctx != nil {
		base = e.ctx
	}
	ctx, cancel := context.WithTimeout(base, handlerTimeout)
	defer cancel()

	if routeErr := e.route(ctx, topic, payload); routeErr != nil {
		level := e.deps.Logger.Warn
		if errors.Is(routeErr, ErrUnroutable) {
			level = e.deps.Logger.Debug
		}
		level("message not handled", "broker", brokerID, "topic", topic, "error", routeErr)
	}
	return nil
}

func (e *Engine) route(ctx context.Context, topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	switch {
	case len(parts) >= 3 && parts[0] == e.opts.Vendor:
		return e.routeVendor(ctx, parts[1], parts[2:], payload)
	case len(parts) == 2 && parts[0] == panel.MirrorPrefix:
		event, ok := panel.LegacyEvent[parts[1]]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnroutable, topic)
		}
		return e.routeLegacy(ctx, event, payload)
	}
	if deviceID, capability, ok := panel.ParseCapabilitySet(topic); ok {
		return e.routeCapabilitySet(ctx, deviceID, capability, payload)
	}
	return fmt.Errorf("%w: %s", ErrUnroutable, topic)
}

// routeVendor handles <vendor>/<panel>/... hardware-protocol topics.
func (e *Engine) routeVendor(ctx context.Context, panelID string, rest []string, payload []byte) error {
	c, err := e.Controller(panelID)
	if err != nil {
		return err
	}
	switch {
	case len(rest) == 3 && rest[0] == "button":
		idx, page, err := parseButtonID(rest[1])
		if err != nil {
			return err
		}
		return e.press(ctx, c, panelID, idx/2, sideOf(idx), page, rest[2])
	case len(rest) == 2 && rest[0] == "page" && rest[1] == "state":
		n, err := strconv.Atoi(strings.TrimSpace(string(payload)))
		if err != nil {
			return fmt.Errorf("page state %q: %w", payload, err)
		}
		return c.OnPageState(ctx, n)
	case len(rest) == 2 && rest[0] == "sensor":
		n, err := strconv.Atoi(rest[1])
		if err != nil {
			return fmt.Errorf("sensor id %q: %w", rest[1], err)
		}
		return c.OnSensor(ctx, n, payload)
	case len(rest) == 2 && rest[0] == "brightness" && rest[1] != "set":
		return c.OnBrightness(ctx, rest[1], payload)
	}
	return fmt.Errorf("%w: %s/%s", ErrUnroutable, panelID, strings.Join(rest, "/"))
}

func (e *Engine) routeLegacy(ctx context.Context, event string, payload []byte) error {
	var lp panel.LegacyPress
	if err := json.Unmarshal(payload, &lp); err != nil {
		return fmt.Errorf("legacy press payload: %w", err)
	}
	if lp.PanelID == "" {
		return fmt.Errorf("%w: legacy press without panel id", ErrUnroutable)
	}
	side, err := slots.ParseSide(lp.Side)
	if err != nil {
		return err
	}
	c, err := e.Controller(lp.PanelID)
	if err != nil {
		return err
	}
	return e.press(ctx, c, lp.PanelID, lp.Connector, side, lp.Page, event)
}

func (e *Engine) press(ctx context.Context, c *panel.Controller, panelID string, connector int, side slots.Side, page int, event string) error {
	e.broadcast(ChannelButton, ButtonMessage{PanelID: panelID, Connector: connector, Side: string(side), Page: page, Event: event})
	return c.HandleButton(ctx, panel.ButtonEvent{Connector: connector, Side: side, Page: page, Event: event})
}

// routeCapabilitySet handles homey/<device>/<capability>/set. Virtual
// buttons (homey/button/<panel>-<idx>-<page>/set) and the panel's own
// page and brightness are resolved by matching the device part against
// the known panel ids; anything else is a hub capability write.
func (e *Engine) routeCapabilitySet(ctx context.Context, deviceID, capability string, payload []byte) error {
	value := parsePayload(payload)
	switch deviceID {
	case "button":
		panelID, rest, ok := e.matchPanel(capability)
		if !ok {
			return fmt.Errorf("%w: virtual button %s", ErrUnroutable, capability)
		}
		idx, page, err := parseButtonID(rest)
		if err != nil {
			return err
		}
		c, err := e.Controller(panelID)
		if err != nil {
			return err
		}
		return c.SetButtonState(ctx, idx/2, sideOf(idx), page, truthy(value))
	case slots.DeviceVariable:
		return e.deps.Hub.SetVariable(ctx, capability, value)
	}

	if c, err := e.Controller(deviceID); err == nil {
		switch capability {
		case hub.CapPage:
			n, ok := value.(float64)
			if !ok {
				return fmt.Errorf("page %v is not a number", value)
			}
			return c.SetPage(ctx, int(n))
		case hub.CapBrightness:
			n, ok := value.(float64)
			if !ok {
				return fmt.Errorf("brightness %v is not a number", value)
			}
			return c.SetBrightness(ctx, int(n))
		}
	}
	return e.deps.Hub.SetCapability(ctx, deviceID, capability, value)
}

// matchPanel finds the panel whose id is the longest prefix of s followed
// by '-', returning the remainder.
func (e *Engine) matchPanel(s string) (panelID, rest string, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for id := range e.controllers {
		if len(id) > len(panelID) && strings.HasPrefix(s, id+"-") {
			panelID, rest, ok = id, s[len(id)+1:], true
		}
	}
	return panelID, rest, ok
}

// parseButtonID splits "<idx>-<page>".
func parseButtonID(s string) (idx, page int, err error) {
	a, b, found := strings.Cut(s, "-")
	if !found {
		return 0, 0, fmt.Errorf("button id %q: missing page", s)
	}
	if idx, err = strconv.Atoi(a); err != nil || idx < 0 {
		return 0, 0, fmt.Errorf("%w: button id %q", panel.ErrInvalidConnector, s)
	}
	if page, err = strconv.Atoi(b); err != nil || page < 0 {
		return 0, 0, fmt.Errorf("button id %q: bad page", s)
	}
	return idx, page, nil
}

func sideOf(idx int) slots.Side {
	return slots.Sides[idx%2]
}

// parsePayload decodes JSON scalars and falls back to the raw string.
func parsePayload(payload []byte) any {
	var v any
	if err := json.Unmarshal(payload, &v); err == nil {
		return v
	}
	return strings.TrimSpace(string(payload))
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x == "true" || x == "on" || x == "1"
	}
	return false
}
