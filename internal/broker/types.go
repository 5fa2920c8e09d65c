package broker

import (
	"fmt"
	"strings"
)

const (
	// DefaultAlias is the broker id slots use to mean "the default broker".
	DefaultAlias = "Default"

	// LocalID is the id of the embedded broker.
	LocalID = "local"

	// QoSAtLeastOnce is used for every outbound publish.
	QoSAtLeastOnce byte = 1
)

// Config is one broker definition.
type Config struct {
	ID        string `json:"brokerId"`
	URL       string `json:"url"`
	Port      int    `json:"port"`
	WSPort    int    `json:"wsPort"`
	Enabled   bool   `json:"enabled"`
	Protected bool   `json:"protected"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
}

// Validate checks the definition's shape.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidBroker)
	case c.ID == DefaultAlias:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidBroker, DefaultAlias)
	case strings.ContainsAny(c.ID, "/+#"):
		return fmt.Errorf("%w: id %q contains topic characters", ErrInvalidBroker, c.ID)
	case strings.TrimSpace(c.URL) == "":
		return fmt.Errorf("%w: %s: url is required", ErrInvalidBroker, c.ID)
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("%w: %s: port %d out of range", ErrInvalidBroker, c.ID, c.Port)
	case c.WSPort < 0 || c.WSPort > 65535:
		return fmt.Errorf("%w: %s: ws port %d out of range", ErrInvalidBroker, c.ID, c.WSPort)
	}
	return nil
}

// sameEndpoint reports whether a and b would produce the same connection.
func sameEndpoint(a, b Config) bool {
	return a.URL == b.URL && a.Port == b.Port &&
		a.Username == b.Username && a.Password == b.Password
}

// PublishOptions control a single publish.
type PublishOptions struct {
	Retain bool
	QoS    byte
}

// Retained is the option set for value, label and LED topics.
var Retained = PublishOptions{Retain: true, QoS: QoSAtLeastOnce}

// Transient is the option set for one-shot commands such as page or brightness set.
var Transient = PublishOptions{QoS: QoSAtLeastOnce}

// Handler receives a message from the broker it was registered on.
type Handler func(brokerID, topic string, payload []byte) error
