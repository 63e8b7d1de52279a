package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/domotic-core/internal/api"
	"github.com/nerrad567/domotic-core/internal/audit"
	"github.com/nerrad567/domotic-core/internal/automation"
	"github.com/nerrad567/domotic-core/internal/controller"
	"github.com/nerrad567/domotic-core/internal/device"
	"github.com/nerrad567/domotic-core/internal/events"
	"github.com/nerrad567/domotic-core/internal/infrastructure/config"
	"github.com/nerrad567/domotic-core/internal/infrastructure/database"
	"github.com/nerrad567/domotic-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/domotic-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/domotic-core/internal/infrastructure/logging"
	"github.com/nerrad567/domotic-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/domotic-core/internal/telemetry"
	"github.com/nerrad567/domotic-core/migrations"
)

// auditRetention is how long activity entries are kept.
const auditRetention = 90 * 24 * time.Hour

// runOptions are command-line overrides applied on top of the config file.
type runOptions struct {
	logLevel string
}

type runOption func(*runOptions)

// withLogLevel overrides logging.level; empty keeps the configured level.
func withLogLevel(level string) runOption {
	return func(o *runOptions) { o.logLevel = level }
}

// run is the service lifecycle, separated from main for testability.
// It returns nil on a clean shutdown after ctx is cancelled.
func run(ctx context.Context, configPath string, opts ...runOption) error {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Domotic Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	if ro.logLevel != "" {
		log.SetLevel(ro.logLevel)
	}
	log.Info("logger initialised",
		"level", log.Level().String(),
		"format", cfg.Logging.Format,
	)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Durable storage
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", db.Path())

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	kv := kvstore.New(db)

	// Device registry
	catalog, err := device.CatalogFromConfig(cfg.Devices)
	if err != nil {
		return fmt.Errorf("building device catalog: %w", err)
	}
	registry := device.NewRegistry(catalog, device.NewKVRepository(kv))
	registry.SetLogger(log.With("component", "registry"))
	if loadErr := registry.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading device registry: %w", loadErr)
	}
	log.Info("device registry initialised", "devices", catalog.Len())

	// Events and inbound routing
	bus := events.NewBus()
	bus.SetLogger(log.With("component", "events"))
	defer bus.Close()
	bus.Subscribe(logEvent(log))

	readings := telemetry.NewTracker()
	router := events.NewRouter(catalog, registry, readings, bus, events.Topics{
		Telemetry: cfg.MQTT.Topics.Telemetry,
		Alert:     cfg.MQTT.Topics.Alert,
	})
	router.SetLogger(log.With("component", "router"))

	// Broker session
	session, err := mqtt.NewSession(cfg.MQTT, mqtt.FixedTopics(cfg), router.Route,
		mqtt.WithLogger(log.With("component", "mqtt")))
	if err != nil {
		return fmt.Errorf("creating MQTT session: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		session.Disconnect()
	}()

	// Telemetry history (optional)
	influxClient, err := connectInfluxDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection", "failed_writes", influxClient.FailedWrites())
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		wireHistory(influxClient, router, registry, bus)
	}

	// Schedules
	commander := device.NewCommander(registry, session, true)

	scheduleRepo := automation.NewKVRepository(kv)
	scheduleRepo.SetLogger(log.With("component", "schedules"))
	store := automation.NewStore(scheduleRepo, catalog)
	store.SetLogger(log.With("component", "schedules"))
	if loadErr := store.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading schedules: %w", loadErr)
	}
	log.Info("schedules loaded", "count", len(store.List()))

	evaluator := automation.NewEvaluator(store, catalog, commander, bus,
		automation.WithLocation(loc),
		automation.WithResumeOnStart(cfg.Scheduler.ResumeActiveWindows),
		automation.WithReapplyOnResume(cfg.Scheduler.ReapplyOnResume),
	)
	evaluator.SetLogger(log.With("component", "evaluator"))

	// Activity log
	auditRepo := audit.NewSQLiteRepository(db.DB)
	if pruned, pruneErr := auditRepo.Prune(ctx, time.Now().Add(-auditRetention)); pruneErr != nil {
		log.Warn("pruning audit log failed", "error", pruneErr)
	} else if pruned > 0 {
		log.Info("audit log pruned", "removed", pruned)
	}

	ctrl, err := controller.New(controller.Deps{
		Registry:  registry,
		Commander: commander,
		Schedules: store,
		Evaluator: evaluator,
		Readings:  readings,
		Session:   session,
		Emitter:   bus,
		Audit:     auditRepo,
		Logger:    log.With("component", "controller"),
	})
	if err != nil {
		return fmt.Errorf("creating controller: %w", err)
	}
	ctrl.ObserveConnection(session)

	// Collaborator API
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Controller: ctrl,
		Events:     bus,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// The evaluator starts first: open windows are resumed on the first
	// successful connect, reported through ObserveConnection.
	if cfg.Scheduler.Enabled {
		if startErr := evaluator.Start(ctx); startErr != nil {
			return fmt.Errorf("starting schedule evaluator: %w", startErr)
		}
		defer evaluator.Stop()
	} else {
		log.Info("schedule evaluator disabled")
	}

	// The outcome of Connect arrives through connection events; with
	// connect_retry the transport keeps trying in the background.
	if connErr := session.Connect(); connErr != nil {
		return fmt.Errorf("connecting to MQTT: %w", connErr)
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// evaluator, API, InfluxDB, MQTT, event bus, database.

	log.Info("Domotic Core stopped")
	return nil
}

// connectInfluxDB returns nil without error when InfluxDB is disabled.
func connectInfluxDB(ctx context.Context, root *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	cfg := root.InfluxDB
	client, err := influxdb.Connect(ctx, cfg, influxdb.WithSiteTag(root.Site.ID))
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}

// historyKinds are the events written to InfluxDB as event points.
var historyKinds = []events.Kind{
	events.KindAlertRaised,
	events.KindParseFailed,
	events.KindConnectionChanged,
	events.KindScheduleFired,
	events.KindScheduleEnded,
	events.KindScheduleResumed,
	events.KindScheduleCommandFailed,
}

// wireHistory feeds readings, device states and notable events to InfluxDB.
func wireHistory(client *influxdb.Client, router *events.Router, registry *device.Registry, bus *events.Bus) {
	router.SetTelemetrySink(client)
	registry.OnChange(func(c device.Change) {
		client.WriteDeviceState(string(c.Device.ID), c.On, string(c.Source), c.At)
	})
	// Device states and readings are recorded as points of their own.
	bus.SubscribeKinds(func(e events.Event) {
		client.WriteEvent(string(e.Kind), e.Timestamp)
	}, historyKinds...)
}

// logEvent writes every core event to the log.
func logEvent(log *logging.Logger) events.Handler {
	return func(e events.Event) {
		args := []any{"kind", e.Kind, "event_id", e.ID}
		if e.Body != "" {
			args = append(args, "message", e.Body)
		}
		for k, v := range e.Data {
			args = append(args, k, v)
		}

		switch e.Kind {
		case events.KindAlertRaised, events.KindScheduleCommandFailed:
			log.Warn("event", args...)
		case events.KindParseFailed:
			log.Debug("event", args...)
		default:
			log.Info("event", args...)
		}
	}
}

// healthCheck verifies the storage connections. The broker is not checked:
// its connection is asynchronous and reported through events.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
