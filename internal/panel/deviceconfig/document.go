package deviceconfig

import "encoding/json"

// Event types tag the protocol role of a topic.
const (
	EventClick           = 0
	EventLongPress       = 1
	EventRelease         = 2
	EventShortPress      = 3
	EventMultiPress      = 4
	EventPageState       = 6
	EventLabel           = 11
	EventTopLabel        = 12
	EventButtonValue     = 14
	EventDisplayValue    = 15
	EventSensor          = 18
	EventPageSet         = 20
	EventLEDFront        = 22
	EventLEDWall         = 23
	EventBrightnessLarge = 24
	EventBrightnessMini  = 25
	EventBrightnessSet   = 26
	EventBrightnessLED   = 27
)

// Connector types as reported in info.connectors.
const (
	ConnectorNone      = 0
	ConnectorButtonBar = 1
	ConnectorDisplay   = 2
)

// Document is the full configuration of one panel.
type Document struct {
	Info         Info          `json:"info"`
	Core         Core          `json:"core"`
	Buttons      []Button      `json:"buttons"`
	DisplayItems []DisplayItem `json:"displayitems"`
	Sensors      []Sensor      `json:"sensors"`
	Brokers      []Broker      `json:"brokers"`
}

// Info is read-only hardware information.
type Info struct {
	ID         string      `json:"id,omitempty"`
	Mac        string      `json:"mac"`
	Firmware   string      `json:"firmware"`
	Connectors []Connector `json:"connectors"`
}

// Connector is one physical expansion position.
type Connector struct {
	ID   int `json:"id"`
	Type int `json:"type"`
}

// Topic binds an event type to a topic on a broker.
type Topic struct {
	BrokerID  string `json:"brokerid"`
	Topic     string `json:"topic"`
	Payload   string `json:"payload"`
	EventType int    `json:"eventtype"`
}

// Core holds panel-wide topics such as page and brightness.
type Core struct {
	Topics []Topic `json:"topics"`
}

// Button is one hardware button on one page.
type Button struct {
	ID         int     `json:"id"`
	Page       int     `json:"page"`
	Label      string  `json:"label"`
	TopLabel   string  `json:"toplabel"`
	LongDelay  int     `json:"longdelay"`
	LongRepeat int     `json:"longrepeat"`
	Topics     []Topic `json:"topics"`
}

// DisplayItem is one rendered field on a display connector.
type DisplayItem struct {
	ID        int     `json:"id"`
	Connector int     `json:"connector"`
	Page      int     `json:"page"`
	X         int     `json:"x"`
	Y         int     `json:"y"`
	Width     int     `json:"width"`
	FontSize  int     `json:"fontsize"`
	Label     string  `json:"label"`
	Unit      string  `json:"unit"`
	Round     int     `json:"round"`
	Topics    []Topic `json:"topics"`
}

// Sensor is an onboard sensor that reports on its topics.
type Sensor struct {
	SensorID int     `json:"sensorid"`
	Interval int     `json:"interval"`
	Topics   []Topic `json:"topics"`
}

// Broker tells the panel how to reach a broker.
type Broker struct {
	BrokerID string `json:"brokerid"`
	URL      string `json:"url"`
	Port     int    `json:"port"`
	WSPort   int    `json:"wsport"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Partial is a write payload. Nil sections are omitted and left untouched
// by the panel; a non-nil pointer to an empty slice clears the section.
type Partial struct {
	Core         *Core          `json:"core,omitempty"`
	Buttons      *[]Button      `json:"buttons,omitempty"`
	DisplayItems *[]DisplayItem `json:"displayitems,omitempty"`
	Sensors      *[]Sensor      `json:"sensors,omitempty"`
	Brokers      *[]Broker      `json:"brokers,omitempty"`
}

// Empty reports whether the partial carries no section.
func (p Partial) Empty() bool {
	return len(p.Sections()) == 0
}

// Sections lists the names of the sections present, in document order.
func (p Partial) Sections() []string {
	var out []string
	if p.Core != nil {
		out = append(out, "core")
	}
	if p.Buttons != nil {
		out = append(out, "buttons")
	}
	if p.DisplayItems != nil {
		out = append(out, "displayitems")
	}
	if p.Sensors != nil {
		out = append(out, "sensors")
	}
	if p.Brokers != nil {
		out = append(out, "brokers")
	}
	return out
}

// Marshal encodes the partial for POST /configsave.
func (p Partial) Marshal() ([]byte, error) {
	return json.Marshal(p)
}
