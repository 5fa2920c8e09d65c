// Panel Sync keeps networked wall panels in step with a home hub.
//
// It mirrors hub devices onto panel buttons and displays, turns button
// presses into hub capability changes and flow triggers, and pushes slot
// configuration to the panels over HTTP.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/nerrad567/panelsync/migrations"

	"github.com/nerrad567/panelsync/internal/api"
	"github.com/nerrad567/panelsync/internal/audit"
	"github.com/nerrad567/panelsync/internal/auth"
	"github.com/nerrad567/panelsync/internal/broker"
	"github.com/nerrad567/panelsync/internal/engine"
	"github.com/nerrad567/panelsync/internal/flow"
	"github.com/nerrad567/panelsync/internal/hub"
	"github.com/nerrad567/panelsync/internal/infrastructure/config"
	"github.com/nerrad567/panelsync/internal/infrastructure/database"
	"github.com/nerrad567/panelsync/internal/infrastructure/influxdb"
	"github.com/nerrad567/panelsync/internal/infrastructure/logging"
	"github.com/nerrad567/panelsync/internal/panel"
	"github.com/nerrad567/panelsync/internal/slots"
)

// Set at build time via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

const healthCheckTimeout = 5 * time.Second

func main() {
	// "panelsync hash-password" reads a password on stdin and prints the
	// argon2id hash for security.admin.password_hash.
	if len(os.Args) == 2 && os.Args[1] == "hash-password" {
		if err := hashPassword(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, blocks until ctx is cancelled and then shuts
// down in reverse order.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting panelsync", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Brokers

	brokers := broker.NewRegistry(
		broker.MQTTDialer(cfg.MQTT, log.Component("mqtt")),
		broker.NewSQLiteRepository(db.DB),
	)
	brokers.SetLogger(log.Component("brokers"))
	brokers.SetRetryDelays(cfg.MQTT.Reconnect.ReconnectDelays())
	defer func() {
		if closeErr := brokers.Close(); closeErr != nil {
			log.Error("error closing broker connections", "error", closeErr)
		}
	}()

	if loadErr := brokers.Load(ctx, cfg.Panels.DefaultBroker); loadErr != nil {
		return fmt.Errorf("loading brokers: %w", loadErr)
	}
	// The embedded broker is registered after Load so the stored set is kept.
	if cfg.LocalBroker.Enabled {
		local, localErr := broker.StartLocal(cfg.LocalBroker, log.Component("local-broker").Logger)
		if localErr != nil {
			return fmt.Errorf("starting local broker: %w", localErr)
		}
		defer func() {
			if closeErr := local.Close(); closeErr != nil {
				log.Error("error closing local broker", "error", closeErr)
			}
		}()
		if regErr := brokers.Register(ctx, local.Config()); regErr != nil {
			return fmt.Errorf("registering local broker: %w", regErr)
		}
	}
	log.Info("brokers loaded", "count", len(brokers.Brokers()), "default", brokers.DefaultBroker())

	// Hub state and slot configuration

	devices := hub.NewRegistry(hub.NewSQLiteRepository(db.DB))
	devices.SetLogger(log.Component("hub"))
	if refreshErr := devices.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading hub devices: %w", refreshErr)
	}
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go devices.Run(hubCtx)

	slotStore := slots.NewStore(slots.NewSQLiteRepository(db.DB))
	slotStore.SetLogger(log.Component("slots"))
	if loadErr := slotStore.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading slots: %w", loadErr)
	}

	// Panels

	client := panel.NewHTTPClient(cfg.GetHTTPTimeout())
	scheduler := panel.NewScheduler()
	panels := panel.NewManager(panel.NewSQLiteRepository(db.DB), client, devices, scheduler)
	panels.SetLogger(log.Component("panels"))
	if loadErr := panels.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading panels: %w", loadErr)
	}
	synchronizer := panel.NewSynchronizer(client, cfg.Panels.WriteAttempts)
	synchronizer.SetLogger(log.Component("sync"))

	// History is optional; a missing InfluxDB never blocks startup.
	var influx *influxdb.Client
	var engineRec engine.Recorder
	var flowRec flow.Recorder
	if cfg.InfluxDB.Enabled {
		influx, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			log.Warn("influxdb unavailable, continuing without history", "error", err)
		} else {
			influx.SetOnError(func(writeErr error) {
				log.Warn("influxdb write failed", "error", writeErr)
			})
			defer func() {
				if closeErr := influx.Close(); closeErr != nil {
					log.Error("error closing influxdb", "error", closeErr)
				}
			}()
			engineRec, flowRec = influx, influx
			log.Info("influxdb connected", "url", cfg.InfluxDB.URL)
		}
	}

	// Engine and API

	wsHub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	triggers := flow.NewDispatcher(brokers, wsHub, flowRec)
	triggers.SetLogger(log.Component("flow"))

	eng := engine.New(engine.Deps{
		Brokers:      brokers,
		Slots:        slotStore,
		Hub:          devices,
		Panels:       panels,
		Synchronizer: synchronizer,
		Scheduler:    scheduler,
		Triggers:     triggers,
		Recorder:     engineRec,
		WS:           wsHub,
		Logger:       log.Component("engine"),
	}, engine.Options{
		Vendor:             cfg.Panels.VendorPrefix,
		LongPressDebounce:  cfg.GetLongPressDebounce(),
		ReleaseRevertDelay: cfg.GetReleaseRevertDelay(),
		RefreshInterval:    cfg.GetRefreshInterval(),
	})
	if startErr := eng.Start(ctx); startErr != nil {
		return fmt.Errorf("starting engine: %w", startErr)
	}
	defer eng.Stop()

	trail := audit.NewTrail(audit.NewSQLiteRepository(db.DB))
	trail.SetLogger(log.Component("audit"))

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Engine:   eng,
		Brokers:  brokers,
		Slots:    slotStore,
		Hub:      devices,
		Panels:   panels,
		WSHub:    wsHub,
		Audit:    trail,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if healthErr := healthCheck(ctx, db, influx); healthErr != nil {
		log.Warn("initial health check failed", "error", healthErr)
	}

	log.Info("panelsync ready",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"panels", len(panels.List()),
	)

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

func hashPassword(r io.Reader, w io.Writer) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}

// getConfigPath returns PANELSYNC_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv("PANELSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the stores the service cannot run without.
// A nil influx client is skipped.
func healthCheck(ctx context.Context, db *database.DB, influx *influxdb.Client) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if db == nil {
		return errors.New("database not initialised")
	}
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if influx != nil {
		if err := influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
