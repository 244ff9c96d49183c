// MonoZone - Whole-Home Audio Controller
//
// This is the main entry point for the MonoZone application: a mediator
// between control clients and a Monoprice six-zone amplifier reached
// through an iTach IP-to-serial bridge. It is designed for:
//   - Always-on operation on a Raspberry Pi class device
//   - Offline-first control (no cloud dependency)
//   - Surviving amplifier and bridge power cycles without restarts
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/twolfekc/monozone-pi/migrations"

	"github.com/twolfekc/monozone-pi/internal/automation"
	"github.com/twolfekc/monozone-pi/internal/bridges/monoprice"
	"github.com/twolfekc/monozone-pi/internal/core"
	"github.com/twolfekc/monozone-pi/internal/infrastructure/config"
	"github.com/twolfekc/monozone-pi/internal/infrastructure/database"
	"github.com/twolfekc/monozone-pi/internal/infrastructure/influxdb"
	"github.com/twolfekc/monozone-pi/internal/infrastructure/logging"
	"github.com/twolfekc/monozone-pi/internal/infrastructure/mqtt"
	"github.com/twolfekc/monozone-pi/internal/preset"
	"github.com/twolfekc/monozone-pi/internal/zone"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting MonoZone",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Build the zone cache for the configured zones
	cache := zone.NewCache(cfg.Amplifier.Zones)
	log.Info("zone cache initialised", "zones", cfg.Amplifier.Zones)

	// Start the amplifier bridge. It begins Disconnected and retries
	// forever - a powered-off amplifier must never fail startup.
	bridge := monoprice.New(monoprice.Config{
		Host:                  cfg.Amplifier.Host,
		Port:                  cfg.Amplifier.Port,
		ConnectTimeout:        cfg.GetConnectTimeout(),
		CommandTimeout:        cfg.GetCommandTimeout(),
		ReconnectInitialDelay: time.Duration(cfg.Amplifier.Reconnect.InitialDelay) * time.Second,
		ReconnectMaxDelay:     time.Duration(cfg.Amplifier.Reconnect.MaxDelay) * time.Second,
	}, cache)
	bridge.SetLogger(log)
	bridge.Start(ctx)
	defer func() {
		log.Info("stopping amplifier bridge")
		if closeErr := bridge.Close(); closeErr != nil {
			log.Error("error closing bridge", "error", closeErr)
		}
	}()
	log.Info("amplifier bridge started",
		"host", cfg.Amplifier.Host,
		"port", cfg.Amplifier.Port,
	)

	// Start the status poller, which keeps the cache warm and picks up
	// front-panel and IR remote changes
	poller := monoprice.NewPoller(bridge, cfg.GetPollInterval())
	poller.Start(ctx)
	defer func() {
		log.Info("stopping status poller")
		_ = poller.Close()
	}()

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Initialise the schedule registry
	scheduleRepo := automation.NewSQLiteRepository(db.DB)
	registry := automation.NewRegistry(scheduleRepo)
	registry.SetLogger(log)

	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading schedules: %w", refreshErr)
	}
	log.Info("schedule registry initialised", "schedules", registry.ScheduleCount())

	// Preset service
	presetRepo := preset.NewSQLiteRepository(db.DB)
	presetSvc := preset.NewService(presetRepo, bridge, cache)
	presetSvc.SetLogger(log)

	// Executor and scheduler
	executor := automation.NewExecutor(bridge, presetSvc, cache)
	executor.SetLogger(log)

	scheduler := automation.NewScheduler(registry, scheduleRepo, executor, cfg.Location())
	scheduler.SetLogger(log)
	scheduler.SetTickInterval(cfg.GetTickInterval())
	scheduler.SetDeferralWindow(cfg.GetDeferralWindow())

	// Core facade: wires cache updates, bridge health and schedule
	// firings to MQTT/Influx and accepts zone commands over MQTT. Built
	// before the scheduler starts so its callbacks are in place for the
	// first tick.
	service := core.NewService(core.Deps{
		Cache:     cache,
		Bridge:    bridge,
		Registry:  registry,
		Scheduler: scheduler,
		Runs:      scheduleRepo,
		Presets:   presetSvc,
		MQTT:      mqttClient,
		Influx:    influxClient,
		QoS:       byte(cfg.MQTT.QoS),
		Logger:    log,
	})

	scheduler.Start(ctx)
	defer func() {
		log.Info("stopping scheduler")
		_ = scheduler.Close()
	}()
	log.Info("scheduler started",
		"tick_interval", cfg.GetTickInterval(),
		"deferral_window", cfg.GetDeferralWindow(),
		"timezone", cfg.Site.Timezone,
	)

	if startErr := service.Start(ctx); startErr != nil {
		return fmt.Errorf("starting core service: %w", startErr)
	}

	// Verify infrastructure connections are healthy. The amplifier link
	// is deliberately excluded: it connects in the background.
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Scheduler
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Poller, bridge
	// 5. Database

	log.Info("MonoZone stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MONOZONE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MONOZONE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
