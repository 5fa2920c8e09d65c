package broker

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	mqttserver "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/nerrad567/panelsync/internal/infrastructure/config"
)

// LocalServer is the embedded MQTT broker registered as LocalID.
type LocalServer struct {
	server *mqttserver.Server
	cfg    config.LocalBrokerConfig
}

// StartLocal starts the embedded broker. Listeners are bound before it
// returns, so clients may dial immediately.
func StartLocal(cfg config.LocalBrokerConfig, logger *slog.Logger) (*LocalServer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	server := mqttserver.New(&mqttserver.Options{
		InlineClient: true,
		Logger:       logger.With("component", "local-broker"),
	})
	// Panels on the LAN connect without credentials.
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("adding auth hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{
		ID:      "tcp",
		Address: net.JoinHostPort("", strconv.Itoa(cfg.Port)),
	})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("%w: local tcp listener on %d: %w", ErrConnectFailed, cfg.Port, err)
	}
	if cfg.WSPort > 0 {
		ws := listeners.NewWebsocket(listeners.Config{
			ID:      "ws",
			Address: net.JoinHostPort("", strconv.Itoa(cfg.WSPort)),
		})
		if err := server.AddListener(ws); err != nil {
			server.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("%w: local websocket listener on %d: %w", ErrConnectFailed, cfg.WSPort, err)
		}
	}

	if err := server.Serve(); err != nil {
		server.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("starting local broker: %w", err)
	}
	return &LocalServer{server: server, cfg: cfg}, nil
}

// Config returns the broker definition panels use to reach this server.
func (l *LocalServer) Config() Config {
	host := l.cfg.AdvertiseHost
	if host == "" {
		host = "127.0.0.1"
	}
	return Config{
		ID:        LocalID,
		URL:       host,
		Port:      l.cfg.Port,
		WSPort:    l.cfg.WSPort,
		Enabled:   true,
		Protected: true,
	}
}

// Clients returns the number of connected clients, including the inline one.
func (l *LocalServer) Clients() int {
	return l.server.Clients.Len()
}

// Close stops all listeners and disconnects clients.
func (l *LocalServer) Close() error {
	if l == nil || l.server == nil {
		return nil
	}
	return l.server.Close()
}
