package panel

import (
	"encoding/json"

	"github.com/nerrad567/panelsync/internal/broker"
	"github.com/nerrad567/panelsync/internal/firmware"
	"github.com/nerrad567/panelsync/internal/panel/deviceconfig"
	"github.com/nerrad567/panelsync/internal/slots"
)

// SlotSource resolves slot indices.
type SlotSource interface {
	ButtonSlot(idx int) (slots.ButtonSlot, error)
	DisplaySlot(idx int) (slots.DisplaySlot, error)
}

// BrokerSource lists brokers and resolves the default alias.
type BrokerSource interface {
	Brokers() []broker.Config
	ResolveDefault(id string) string
}

// sensorInterval is how often, in seconds, the panel reports its sensor.
const sensorInterval = 60

// wireDelay converts milliseconds to the 10 ms units the panel uses.
func wireDelay(ms int) int {
	return ms / 10
}

// BuildDesired computes the configuration document p should hold.
func BuildDesired(p Panel, vendor string, src SlotSource, brokers BrokerSource) deviceconfig.Document {
	fw := p.Version()
	t := Topics{Vendor: vendor, PanelID: p.ID}
	def := brokers.ResolveDefault(broker.DefaultAlias)

	doc := deviceconfig.Document{
		Info: deviceconfig.Info{ID: p.ID, Mac: p.Mac, Firmware: p.Firmware},
		Core: deviceconfig.Core{Topics: coreTopics(t, fw, def)},
	}

	displayID := 0
	for c, conn := range p.Connectors {
		doc.Info.Connectors = append(doc.Info.Connectors, deviceconfig.Connector{ID: c, Type: wireConnectorType(conn.Type)})

		switch conn.Type {
		case ConnectorDisplay:
			if conn.Slot == NoSlot {
				continue
			}
			slot, err := src.DisplaySlot(conn.Slot)
			if err != nil {
				continue
			}
			for _, it := range slot.Items {
				doc.DisplayItems = append(doc.DisplayItems, displayItem(displayID, c, it, fw, brokers))
				displayID++
			}
		case ConnectorButtonBar:
			slot, err := src.ButtonSlot(conn.Slot)
			if conn.Slot == NoSlot || err != nil || len(slot.Pages) == 0 {
				doc.Buttons = append(doc.Buttons, placeholderButtons(c)...)
				continue
			}
			pages := slot.Pages
			if !fw.Paged() {
				pages = pages[:1]
			}
			for page, pg := range pages {
				for _, s := range slots.Sides {
					doc.Buttons = append(doc.Buttons, button(p, t, c, s, page, pg.Side(s), fw, brokers))
				}
			}
		default:
			doc.Buttons = append(doc.Buttons, placeholderButtons(c)...)
		}
	}

	if fw.HardwareProtocol() {
		doc.Sensors = []deviceconfig.Sensor{{
			SensorID: 1,
			Interval: sensorInterval,
			Topics:   []deviceconfig.Topic{{BrokerID: def, Topic: t.Sensor(1), EventType: deviceconfig.EventSensor}},
		}}
	}

	for _, b := range brokers.Brokers() {
		if !b.Enabled {
			continue
		}
		doc.Brokers = append(doc.Brokers, deviceconfig.Broker{
			BrokerID: b.ID,
			URL:      b.URL,
			Port:     b.Port,
			WSPort:   b.WSPort,
			Username: b.Username,
			Password: b.Password,
		})
	}
	return doc
}

func wireConnectorType(t ConnectorType) int {
	switch t {
	case ConnectorButtonBar:
		return deviceconfig.ConnectorButtonBar
	case ConnectorDisplay:
		return deviceconfig.ConnectorDisplay
	}
	return deviceconfig.ConnectorNone
}

func coreTopics(t Topics, fw firmware.Version, brokerID string) []deviceconfig.Topic {
	var out []deviceconfig.Topic
	if fw.Paged() {
		out = append(out,
			deviceconfig.Topic{BrokerID: brokerID, Topic: t.PageState(), EventType: deviceconfig.EventPageState},
			deviceconfig.Topic{BrokerID: brokerID, Topic: t.PageSet(), EventType: deviceconfig.EventPageSet},
		)
	}
	if fw.RGBLEDs() {
		out = append(out,
			deviceconfig.Topic{BrokerID: brokerID, Topic: t.BrightnessSet(), EventType: deviceconfig.EventBrightnessSet},
			deviceconfig.Topic{BrokerID: brokerID, Topic: t.Brightness(BrightnessLarge), EventType: deviceconfig.EventBrightnessLarge},
			deviceconfig.Topic{BrokerID: brokerID, Topic: t.Brightness(BrightnessMini), EventType: deviceconfig.EventBrightnessMini},
			deviceconfig.Topic{BrokerID: brokerID, Topic: t.Brightness(BrightnessLED), EventType: deviceconfig.EventBrightnessLED},
		)
	}
	return out
}

// placeholderButtons claims both hardware buttons of a connector so they
// do not keep showing a previous configuration.
func placeholderButtons(c int) []deviceconfig.Button {
	d := slots.DefaultButtonSide()
	out := make([]deviceconfig.Button, 0, 2)
	for _, s := range slots.Sides {
		out = append(out, deviceconfig.Button{
			ID:         ButtonIndex(c, s),
			LongDelay:  wireDelay(d.LongDelay),
			LongRepeat: wireDelay(d.LongRepeat),
			Topics:     []deviceconfig.Topic{},
		})
	}
	return out
}

// staticLabel is the label written into the configuration; live labels
// follow on the label topics.
func staticLabel(side slots.ButtonSide) string {
	if side.OffText != "" {
		return side.OffText
	}
	return side.OnText
}

func button(p Panel, t Topics, c int, s slots.Side, page int, side slots.ButtonSide, fw firmware.Version, brokers BrokerSource) deviceconfig.Button {
	idx := ButtonIndex(c, s)
	bid := brokers.ResolveDefault(side.BrokerID)
	b := deviceconfig.Button{
		ID:         idx,
		Page:       page,
		Label:      staticLabel(side),
		TopLabel:   side.TopLabel,
		LongDelay:  wireDelay(side.LongDelay),
		LongRepeat: wireDelay(side.LongRepeat),
	}
	topic := func(name, payload string, event int) deviceconfig.Topic {
		return deviceconfig.Topic{BrokerID: bid, Topic: name, Payload: payload, EventType: event}
	}

	if fw.HardwareProtocol() {
		b.Topics = append(b.Topics,
			topic(t.ButtonEvent(idx, page, EventClick), "true", deviceconfig.EventClick),
			topic(t.ButtonEvent(idx, page, EventLongPress), "true", deviceconfig.EventLongPress),
			topic(t.ButtonEvent(idx, page, EventRelease), "true", deviceconfig.EventRelease),
			topic(t.Label(idx, page), "", deviceconfig.EventLabel),
			topic(t.TopLabel(idx, page), "", deviceconfig.EventTopLabel),
		)
		if fw.RGBLEDs() {
			b.Topics = append(b.Topics,
				topic(t.LEDFront(idx, page), "", deviceconfig.EventLEDFront),
				topic(t.LEDWall(idx, page), "", deviceconfig.EventLEDWall),
			)
		} else {
			b.Topics = append(b.Topics, topic(t.Value(idx, page), "", deviceconfig.EventButtonValue))
		}
	} else {
		_, labelTopic := sideMirror(p.ID, idx, page, side)
		for _, ev := range []struct {
			name  string
			event string
			tag   int
		}{
			{"click", EventClick, deviceconfig.EventClick},
			{"longpress", EventLongPress, deviceconfig.EventLongPress},
			{"clickrelease", EventRelease, deviceconfig.EventRelease},
		} {
			b.Topics = append(b.Topics, topic(LegacyPressTopic(ev.name), legacyPayload(p.ID, c, s, page, side, ev.event), ev.tag))
		}
		b.Topics = append(b.Topics,
			topic(labelTopic, "", deviceconfig.EventLabel),
			topic(t.Value(idx, page), "", deviceconfig.EventButtonValue),
		)
	}

	if side.Device == slots.DeviceCustomMQTT {
		for _, ct := range side.CustomTopics {
			b.Topics = append(b.Topics, topic(ct.Topic, ct.Payload, ct.EventType))
		}
	}
	return b
}

// LegacyPress is the JSON payload of a legacy press topic.
type LegacyPress struct {
	Connector  int    `json:"connector"`
	Side       string `json:"side"`
	Device     string `json:"device"`
	Capability string `json:"capability"`
	Type       string `json:"type"`
	PanelID    string `json:"panelId"`
	Page       int    `json:"page"`
}

func legacyPayload(panelID string, c int, s slots.Side, page int, side slots.ButtonSide, event string) string {
	body, _ := json.Marshal(LegacyPress{ //nolint:errcheck // plain struct
		Connector:  c,
		Side:       string(s),
		Device:     side.Device,
		Capability: side.Capability,
		Type:       event,
		PanelID:    panelID,
		Page:       page,
	})
	return string(body)
}

func displayItem(id, c int, it slots.DisplayItem, fw firmware.Version, brokers BrokerSource) deviceconfig.DisplayItem {
	page := it.Page
	if !fw.Paged() {
		page = 0
	}
	out := deviceconfig.DisplayItem{
		ID:        id,
		Connector: c,
		Page:      page,
		X:         it.X,
		Y:         it.Y,
		Width:     it.Width,
		FontSize:  it.FontSize,
		Label:     it.Label,
		Unit:      it.Unit,
		Round:     it.Rounding,
		Topics:    []deviceconfig.Topic{},
	}
	if it.Device == slots.DeviceNone || it.Device == "" || it.Capability == "" {
		return out
	}
	out.Topics = append(out.Topics, deviceconfig.Topic{
		BrokerID:  brokers.ResolveDefault(it.BrokerID),
		Topic:     MirrorValue(it.Device, it.Capability),
		EventType: deviceconfig.EventDisplayValue,
	})
	return out
}
