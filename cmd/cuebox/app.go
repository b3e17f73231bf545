package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/cuebox/internal/api"
	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/engine"
	"github.com/nerrad567/cuebox/internal/infrastructure/config"
	"github.com/nerrad567/cuebox/internal/infrastructure/database"
	"github.com/nerrad567/cuebox/internal/infrastructure/influxdb"
	"github.com/nerrad567/cuebox/internal/infrastructure/logging"
	"github.com/nerrad567/cuebox/internal/infrastructure/mqtt"
	"github.com/nerrad567/cuebox/internal/library"
	"github.com/nerrad567/cuebox/internal/plugin"
	"github.com/nerrad567/cuebox/internal/plugins/clock"
	"github.com/nerrad567/cuebox/internal/plugins/mqttbridge"
	"github.com/nerrad567/cuebox/internal/plugins/variables"
	"github.com/nerrad567/cuebox/internal/state"
)

// app is a started engine and the infrastructure under it.
// close releases everything in reverse order of acquisition.
type app struct {
	cfg    *config.Config
	log    *logging.Logger
	db     *database.DB
	mqtt   *mqtt.Client
	influx *influxdb.Client
	engine *engine.Engine

	closers []func()
}

// loadConfig loads the configuration and builds the logger it describes.
func loadConfig(flag string) (*config.Config, *logging.Logger, error) {
	path := getConfigPath(flag)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", path, "site", cfg.Site.ID)
	return cfg, log, nil
}

// openApp connects the infrastructure, registers the plugins and starts
// the engine. On error everything already opened is closed again.
//
// Parameters:
//   - ctx: Context for startup/cancellation
//   - cfg: Application configuration
//   - log: Logger instance
//
// Returns:
//   - *app: Started application; call close when done
//   - error: If any required component fails to start
func openApp(ctx context.Context, cfg *config.Config, log *logging.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	// Open database
	a.db, err = database.Open(database.FromConfig(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.onClose("database", a.db.Close)
	log.Info("database connected", "path", cfg.Database.Path)

	if err = a.db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	// Connect to MQTT broker (optional)
	if cfg.MQTT.Enabled {
		a.mqtt, err = mqtt.Connect(ctx, cfg.MQTT, log.Component("mqtt"))
		if err != nil {
			return nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		a.onClose("MQTT", a.mqtt.Close)
		a.mqtt.SetOnReconnect(func() {
			log.Info("MQTT reconnected")
		})
		a.mqtt.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		a.influx, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
		if err != nil {
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		a.onClose("InfluxDB", a.influx.Close)
		a.influx.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	a.engine = newEngine(cfg, log, state.NewSQLiteStore(a.db.DB), automation.NewSQLiteRunRepository(a.db.DB))

	var client mqttbridge.Client
	if a.mqtt != nil {
		client = a.mqtt
	}
	if err = registerPlugins(a.engine, cfg, client); err != nil {
		return nil, err
	}

	if a.mqtt != nil && cfg.MQTT.MirrorState {
		mirror := engine.NewMirror(a.mqtt, a.mqtt.Topics(), a.mqtt.QoS(), log.Component("mirror"))
		a.engine.Observe(mirror)
		a.closers = append(a.closers, mirror.Close)
		log.Info("MQTT state mirror enabled", "prefix", cfg.MQTT.TopicPrefix)
	}
	if a.influx != nil {
		a.engine.Observe(engine.NewTelemetry(a.influx))
	}

	if err = a.engine.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting engine: %w", err)
	}
	a.closers = append(a.closers, func() {
		timeout := cfg.GetShutdownTimeout()
		closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		log.Info("stopping engine")
		if closeErr := a.engine.Close(closeCtx); closeErr != nil {
			log.Error("error stopping engine", "error", closeErr)
		}
	})
	log.Info("engine started", "plugins", a.engine.Plugins().Names())

	return a, nil
}

// onClose queues a close function that logs its error.
func (a *app) onClose(name string, fn func() error) {
	a.closers = append(a.closers, func() {
		a.log.Info("closing " + name)
		if err := fn(); err != nil {
			a.log.Error("error closing "+name, "error", err)
		}
	})
}

// close releases everything in reverse order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// loadLibrary reads the library and installs it in the engine. Rejected
// files and definitions are logged; the rest stays loaded.
func (a *app) loadLibrary() (*library.Loader, *library.Library) {
	loader := library.NewLoader(a.cfg.Library.ProfilesDir, a.cfg.Library.AutomationsDir)
	lib, err := loader.LoadAll()
	if err != nil {
		a.log.Warn("library files rejected", "error", err)
	}
	if err := a.engine.LoadLibrary(lib); err != nil {
		a.log.Warn("library definitions rejected", "error", err)
	}
	return loader, lib
}

// healthChecks returns the connected dependencies for the health endpoint.
func (a *app) healthChecks() map[string]api.HealthChecker {
	checks := map[string]api.HealthChecker{"database": a.db}
	if a.mqtt != nil {
		checks["mqtt"] = a.mqtt
	}
	if a.influx != nil {
		checks["influxdb"] = a.influx
	}
	return checks
}

// newEngine builds an engine whose logs go through log.
func newEngine(cfg *config.Config, log *logging.Logger, store state.Store, runs automation.RunRepository) *engine.Engine {
	return engine.New(engine.Config{
		SyncGap: cfg.GetSyncGap(),
		Store:   store,
		Runs:    runs,
		Logger:  log.Component("engine"),
		PluginLogger: func(name string) plugin.Logger {
			return log.Plugin(name)
		},
	})
}

// registerPlugins registers the configured plugins. client may be nil when
// the engine is never started and only the manifests are needed.
func registerPlugins(e *engine.Engine, cfg *config.Config, client mqttbridge.Client) error {
	specs, err := variables.LoadFile(cfg.Library.VariablesFile)
	if err != nil {
		return fmt.Errorf("loading variables: %w", err)
	}
	if err := e.Register(variables.New(specs)); err != nil {
		return fmt.Errorf("registering variables plugin: %w", err)
	}

	if cfg.Clock.Enabled {
		loc, err := location(cfg.Site.Timezone)
		if err != nil {
			return err
		}
		if err := e.Register(clock.New(clock.Config{
			Interval: cfg.GetClockInterval(),
			Location: loc,
		})); err != nil {
			return fmt.Errorf("registering clock plugin: %w", err)
		}
	}

	if cfg.MQTT.Enabled {
		bridge, err := mqttbridge.New(mqttbridge.Config{
			Client:   client,
			QoS:      byte(cfg.MQTT.QoS),
			Bindings: bindings(cfg.MQTT.Bindings),
		})
		if err != nil {
			return fmt.Errorf("configuring MQTT bridge: %w", err)
		}
		if err := e.Register(bridge); err != nil {
			return fmt.Errorf("registering MQTT bridge: %w", err)
		}
	}
	return nil
}

// bindings converts configured MQTT bindings.
func bindings(in []config.MQTTBinding) []mqttbridge.Binding {
	out := make([]mqttbridge.Binding, 0, len(in))
	for _, b := range in {
		out = append(out, mqttbridge.Binding{
			Topic: b.Topic,
			Key:   b.Key,
			Type:  state.Type(b.Type),
			Field: b.Field,
		})
	}
	return out
}

// location resolves the site time zone. Empty and "Local" mean time.Local.
func location(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("site.timezone: %w", err)
	}
	return loc, nil
}
