package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/panelsync/internal/infrastructure/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 500 // milliseconds
	defaultKeepAlive         = 30 * time.Second
	defaultPort              = 1883
	defaultTLSPort           = 8883

	maxQoS         = 2
	maxPayloadSize = 1 << 20
)

// Endpoint identifies one broker to connect to.
type Endpoint struct {
	BrokerID string
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
}

// ParseEndpoint builds an Endpoint from the user-facing broker URL.
//
// rawURL may be a bare host ("192.168.1.5"), host:port, or carry a scheme
// (mqtt://, tcp://, mqtts://, ssl://). An explicit port argument wins over
// a port embedded in the URL; zero means "use the URL's or the default".
func ParseEndpoint(brokerID, rawURL string, port int, username, password string) (Endpoint, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return Endpoint{}, fmt.Errorf("%w: empty url for broker %q", ErrInvalidEndpoint, brokerID)
	}
	if !strings.Contains(raw, "://") {
		raw = "mqtt://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}

	ep := Endpoint{
		BrokerID: brokerID,
		Host:     u.Hostname(),
		Username: username,
		Password: password,
	}
	switch u.Scheme {
	case "mqtt", "tcp":
	case "mqtts", "ssl", "tls":
		ep.TLS = true
	default:
		return Endpoint{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if ep.Host == "" {
		return Endpoint{}, fmt.Errorf("%w: missing host in %q", ErrInvalidEndpoint, rawURL)
	}

	switch {
	case port > 0:
		ep.Port = port
	case u.Port() != "":
		if _, err := fmt.Sscanf(u.Port(), "%d", &ep.Port); err != nil {
			return Endpoint{}, fmt.Errorf("%w: bad port %q", ErrInvalidEndpoint, u.Port())
		}
	case ep.TLS:
		ep.Port = defaultTLSPort
	default:
		ep.Port = defaultPort
	}
	return ep, nil
}

// ServerURL returns the paho broker URL for the endpoint.
func (e Endpoint) ServerURL() string {
	scheme := "tcp"
	if e.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, e.Host, e.Port)
}

// clientID derives a per-broker client id so several brokers can share a prefix.
func clientID(cfg config.MQTTConfig, ep Endpoint) string {
	prefix := cfg.ClientIDPrefix
	if prefix == "" {
		prefix = "panelsync"
	}
	return prefix + "-" + ep.BrokerID
}

// buildClientOptions creates paho options for one broker endpoint.
func buildClientOptions(cfg config.MQTTConfig, ep Endpoint) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(ep.ServerURL())
	opts.SetClientID(clientID(cfg, ep))

	if ep.Username != "" {
		opts.SetUsername(ep.Username)
		opts.SetPassword(ep.Password)
	}

	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	if cfg.Reconnect.InitialDelay > 0 {
		opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	}
	if cfg.Reconnect.MaxDelay > 0 {
		opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	}

	opts.SetConnectTimeout(connectTimeout(cfg))

	keepAlive := defaultKeepAlive
	if cfg.KeepAlive > 0 {
		keepAlive = time.Duration(cfg.KeepAlive) * time.Second
	}
	opts.SetKeepAlive(keepAlive)

	if ep.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

func connectTimeout(cfg config.MQTTConfig) time.Duration {
	if cfg.ConnectTimeout > 0 {
		return time.Duration(cfg.ConnectTimeout) * time.Second
	}
	return defaultConnectTimeout
}

// configureLWT makes the broker publish an offline status if we vanish.
func configureLWT(opts *pahomqtt.ClientOptions, id string) {
	opts.SetWill(Topics{}.SystemStatus(), statusPayload("offline", id, "unexpected_disconnect"), 1, true)
}

func statusPayload(status, id, reason string) string {
	ts := time.Now().UTC().Format(time.RFC3339)
	if reason == "" {
		return fmt.Sprintf(`{"status":%q,"client_id":%q,"timestamp":%q}`, status, id, ts)
	}
	return fmt.Sprintf(`{"status":%q,"client_id":%q,"reason":%q,"timestamp":%q}`, status, id, reason, ts)
}
