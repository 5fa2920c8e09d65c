package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/panelsync/internal/infrastructure/config"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		port    int
		want    Endpoint
		wantErr bool
	}{
		{name: "bare host", url: "192.168.1.5", want: Endpoint{BrokerID: "b", Host: "192.168.1.5", Port: 1883}},
		{name: "host with port", url: "broker.lan:1884", want: Endpoint{BrokerID: "b", Host: "broker.lan", Port: 1884}},
		{name: "mqtt scheme", url: "mqtt://broker.lan", want: Endpoint{BrokerID: "b", Host: "broker.lan", Port: 1883}},
		{name: "tls default port", url: "mqtts://broker.lan", want: Endpoint{BrokerID: "b", Host: "broker.lan", Port: 8883, TLS: true}},
		{name: "explicit port wins", url: "tcp://broker.lan:1999", port: 2000, want: Endpoint{BrokerID: "b", Host: "broker.lan", Port: 2000}},
		{name: "empty", url: "  ", wantErr: true},
		{name: "bad scheme", url: "http://broker.lan", wantErr: true},
		{name: "no host", url: "mqtt://:1883", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEndpoint("b", tt.url, tt.port, "", "")
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEndpoint) {
					t.Fatalf("ParseEndpoint() error = %v, want ErrInvalidEndpoint", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEndpoint() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseEndpoint() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEndpoint_ServerURL(t *testing.T) {
	if got := (Endpoint{Host: "h", Port: 1883}).ServerURL(); got != "tcp://h:1883" {
		t.Errorf("ServerURL() = %q", got)
	}
	if got := (Endpoint{Host: "h", Port: 8883, TLS: true}).ServerURL(); got != "ssl://h:8883" {
		t.Errorf("ServerURL() = %q", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{ClientIDPrefix: "sync", QoS: 1, KeepAlive: 15}
	ep := Endpoint{BrokerID: "house", Host: "10.0.0.2", Port: 1883, Username: "u", Password: "p"}

	opts := buildClientOptions(cfg, ep)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://10.0.0.2:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "sync-house" {
		t.Errorf("ClientID = %q, want sync-house", opts.ClientID)
	}
	if opts.Username != "u" || opts.Password != "p" {
		t.Errorf("credentials not applied")
	}
	if !opts.AutoReconnect || !opts.ConnectRetry {
		t.Error("reconnect options not enabled")
	}
	if opts.KeepAlive != 15 {
		t.Errorf("KeepAlive = %d, want 15", opts.KeepAlive)
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig set for plain endpoint")
	}
}

func TestClientID_DefaultPrefix(t *testing.T) {
	if got := clientID(config.MQTTConfig{}, Endpoint{BrokerID: "local"}); got != "panelsync-local" {
		t.Errorf("clientID() = %q", got)
	}
}

func TestStatusPayload(t *testing.T) {
	p := statusPayload("offline", "panelsync-local", "graceful_shutdown")
	for _, want := range []string{`"status":"offline"`, `"client_id":"panelsync-local"`, `"reason":"graceful_shutdown"`} {
		if !strings.Contains(p, want) {
			t.Errorf("payload %s missing %s", p, want)
		}
	}
	if strings.Contains(statusPayload("online", "x", ""), "reason") {
		t.Error("online payload should not carry a reason")
	}
}

func TestPublish_ValidationBeforeConnection(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		want    error
	}{
		{"empty topic", "", 0, nil, ErrInvalidTopic},
		{"bad qos", "a/b", 3, nil, ErrInvalidQoS},
		{"oversize", "a/b", 0, make([]byte, maxPayloadSize+1), ErrPublishFailed},
		{"not connected", "a/b", 1, []byte("x"), ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribe_ValidationBeforeConnection(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 0, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: %v", err)
	}
	if err := c.Subscribe("a/#", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler: %v", err)
	}
	if err := c.Subscribe("a/#", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("not connected: %v", err)
	}
	if c.HasSubscription("a/#") {
		t.Error("failed subscription should not be tracked")
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) = %v", err)
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func TestDispatch_RecoversPanicAndLogsErrors(t *testing.T) {
	logger := &recordingLogger{}
	c := &Client{endpoint: Endpoint{BrokerID: "local"}}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "t", nil)

	if len(logger.errors) != 1 {
		t.Errorf("errors logged = %d, want 1", len(logger.errors))
	}
	if len(logger.warns) != 1 {
		t.Errorf("warnings logged = %d, want 1", len(logger.warns))
	}
}

func TestTopics(t *testing.T) {
	if got := (Topics{}).SystemStatus(); got != "panelsync/system/status" {
		t.Errorf("SystemStatus() = %q", got)
	}
	if got := (Topics{}).FlowTrigger("bp-1", "button_on"); got != "panelsync/flow/bp-1/button_on" {
		t.Errorf("FlowTrigger() = %q", got)
	}
}
