package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-nvr/internal/api"
	"github.com/nerrad567/gray-logic-nvr/internal/events"
	"github.com/nerrad567/gray-logic-nvr/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-nvr/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-nvr/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-nvr/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-nvr/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-nvr/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-nvr/internal/protect"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/store"
	"github.com/nerrad567/gray-logic-nvr/internal/relay"
	"github.com/nerrad567/gray-logic-nvr/migrations"
)

// historyPruneInterval is how often expired health history is deleted.
const historyPruneInterval = time.Hour

func newRunCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the live state service",
		Long: `Connect to the Protect console, keep the entity cache live and publish it
over MQTT, InfluxDB, the REST API and the WebSocket push channel.

Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), root.ConfigPath)
		},
	}
}

// run is the service, separated from the command for testability.
//
// Parameters:
//   - ctx: cancelled on shutdown signals
//   - configPath: YAML file, or empty for defaults plus environment
//
// Returns:
//   - error: nil on clean shutdown, or the failure that stopped startup
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic NVR",
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
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Persistence (optional)
	var (
		db        *database.DB
		snapshots *store.Snapshots
		history   *store.HealthHistory
	)
	if cfg.Cache.Persist {
		db, err = openDatabase(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		key := cfg.NVR.Host()
		if snapshots, err = store.NewSnapshots(db.DB, key); err != nil {
			return fmt.Errorf("creating snapshot store: %w", err)
		}
		if history, err = store.NewHealthHistory(db.DB, key); err != nil {
			return fmt.Errorf("creating health history: %w", err)
		}
		history.SetLogger(log)
	} else {
		log.Info("snapshot persistence disabled")
	}

	// Protect client with its observers
	m := metrics.New()
	bus := events.New()
	observer := events.NewObserver(bus, nil)
	for _, unsub := range subscribeLifecycleLogs(bus, log) {
		defer unsub()
	}

	opts := []protect.Option{
		protect.WithLogger(log),
		protect.WithObserver(m),
		protect.WithObserver(observer),
	}
	if snapshots != nil {
		opts = append(opts, protect.WithStore(snapshots))
	}
	client, err := protect.New(clientConfig(cfg), opts...)
	if err != nil {
		return fmt.Errorf("creating protect client: %w", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing protect client", "error", closeErr)
		}
	}()

	// Background workers stop before the client closes and the database
	// with it.
	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	view := client.View()
	observer.SetView(view)
	m.WatchView(view)

	if history != nil {
		wg.Add(2)
		go func() {
			defer wg.Done()
			history.Follow(runCtx, view)
		}()
		go func() {
			defer wg.Done()
			pruneHistory(runCtx, history, cfg.Cache.HistoryRetention, log)
		}()
	}

	// MQTT relays (optional)
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
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		states := relay.NewStatePublisher(mqttClient, view)
		states.SetLogger(log)
		health := relay.NewHealthReporter(mqttClient, view)
		health.SetLogger(log)

		// Retained topics may have been lost with the broker.
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
			health.PublishNow()
			states.Republish()
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		wg.Add(2)
		go func() {
			defer wg.Done()
			states.Run(runCtx)
		}()
		go func() {
			defer wg.Done()
			health.Run(runCtx)
		}()

		commands := relay.NewCommandListener(mqttClient, client)
		commands.SetLogger(log)
		if startErr := commands.Start(); startErr != nil {
			return fmt.Errorf("subscribing to MQTT commands: %w", startErr)
		}
		defer func() {
			if stopErr := commands.Stop(); stopErr != nil {
				log.Warn("error unsubscribing MQTT commands", "error", stopErr)
			}
		}()
	} else {
		log.Info("MQTT relay disabled")
	}

	// InfluxDB statistics (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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

		writer := relay.NewStatsWriter(influxClient, view)
		writer.SetLogger(log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			writer.Run(runCtx)
		}()
	} else {
		log.Info("InfluxDB disabled")
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log,
			Client:  client,
			Metrics: m.Handler(),
			Version: version,
		}
		if history != nil {
			deps.History = history
		}
		srv, srvErr := api.New(deps)
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		if startErr := srv.Start(runCtx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if err := client.Connect(runCtx); err != nil {
		return fmt.Errorf("connecting to NVR: %w", err)
	}
	log.Info("connected to NVR", "url", cfg.NVR.URL)

	ready := make(chan error, 1)
	go func(c chan<- error) {
		c <- client.WaitReady(runCtx)
	}(ready)

	log.Info("initialisation complete, waiting for shutdown signal")
	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received, cleaning up")
			return nil

		case readyErr := <-ready:
			ready = nil
			if readyErr != nil && ctx.Err() == nil {
				return fmt.Errorf("protect client stopped: %w", readyErr)
			}
			if readyErr == nil {
				log.Info("initial snapshot installed",
					"revision", view.Revision().UpdateID,
					"entities", view.Len(),
				)
			}
		}
	}
}

func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")
	return db, nil
}

// pruneHistory deletes health history older than retention, once at start
// and then every historyPruneInterval.
func pruneHistory(ctx context.Context, history *store.HealthHistory, retention time.Duration, log *logging.Logger) {
	if retention <= 0 {
		return
	}
	prune := func() {
		n, err := history.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("health history prune failed", "error", err)
			}
			return
		}
		if n > 0 {
			log.Info("health history pruned", "rows", n)
		}
	}

	prune()
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// subscribeLifecycleLogs logs client lifecycle events and returns the
// unsubscribe functions.
func subscribeLifecycleLogs(bus *events.Bus, log *logging.Logger) []func() {
	return []func(){
		bus.Subscribe(func(e events.SessionConnected) {
			log.Info("protect session live", "revision", e.Revision, "entities", e.Entities)
		}),
		bus.Subscribe(func(e events.SessionDisconnected) {
			log.Warn("protect session lost", "state", e.State, "error", e.Error)
		}),
		bus.Subscribe(func(e events.ResyncStarted) {
			log.Info("protect resync started", "reason", e.Reason)
		}),
		bus.Subscribe(func(e events.ResyncFailed) {
			log.Warn("protect resync failed",
				"error", e.Error,
				"failures", e.Failures,
				"degraded", e.Degraded,
				"retry_in", e.RetryIn,
			)
		}),
	}
}

// healthCheck verifies the infrastructure connections that are enabled.
//
// Parameters:
//   - db: may be nil when persistence is disabled
//   - mqttClient: may be nil when the MQTT relay is disabled
//   - influxClient: may be nil when InfluxDB is disabled
//
// Returns:
//   - error: first health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
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
