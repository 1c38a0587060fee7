// sclinacd is the superconducting linac setup service.
//
// It builds the machine topology, connects a process-variable backend
// (the in-process simulator by default), and exposes hierarchical
// setup/shutdown/abort orchestration over HTTP, with results persisted
// to SQLite and mirrored to MQTT and InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	_ "github.com/slaclab/sc-linac-physics/migrations"

	"github.com/slaclab/sc-linac-physics/internal/api"
	"github.com/slaclab/sc-linac-physics/internal/history"
	"github.com/slaclab/sc-linac-physics/internal/infrastructure/config"
	"github.com/slaclab/sc-linac-physics/internal/infrastructure/database"
	"github.com/slaclab/sc-linac-physics/internal/infrastructure/influxdb"
	"github.com/slaclab/sc-linac-physics/internal/infrastructure/logging"
	"github.com/slaclab/sc-linac-physics/internal/infrastructure/mqtt"
	"github.com/slaclab/sc-linac-physics/internal/linac"
	"github.com/slaclab/sc-linac-physics/internal/pv"
	"github.com/slaclab/sc-linac-physics/internal/quench"
	"github.com/slaclab/sc-linac-physics/internal/setup"
	"github.com/slaclab/sc-linac-physics/internal/sim"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	log := logging.Default()
	log.Info("starting sclinacd", "version", version, "commit", commit)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database and apply migrations
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

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Build the machine topology
	machine, err := linac.Build(cfg.Hierarchy)
	if err != nil {
		return fmt.Errorf("building machine topology: %w", err)
	}
	log.Info("machine topology built", "nodes", machine.NodeCount())

	// Process-variable backend. Only the in-process simulator is wired
	// today; SCLINAC_PV_PROTOCOL selects the backend so a channel-access
	// client can slot in without touching the orchestration code.
	protocol := strings.ToLower(os.Getenv("SCLINAC_PV_PROTOCOL"))
	if protocol == "" {
		protocol = "fake"
	}
	if protocol != "fake" {
		return fmt.Errorf("unsupported pv protocol %q", protocol)
	}

	simServer := sim.NewServer(machine, cfg.Simulator)
	simServer.SetLogger(log)
	var client pv.Client = simServer

	if err := pv.ConnectWithRetry(ctx, client, pv.DefaultConnectRetry); err != nil {
		return fmt.Errorf("connecting pv backend: %w", err)
	}
	defer client.Close()
	log.Info("pv backend connected", "protocol", protocol)

	go simServer.Run(ctx)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	var publisher *mqtt.Publisher
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
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

		publisher = mqtt.NewPublisher(mqttClient, log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)

		sampler := influxdb.NewSampler(machine, client, influxClient, cfg.Simulator.TickInterval())
		go sampler.Run(ctx)
	} else {
		log.Info("InfluxDB disabled")
	}

	// History repositories
	resultRepo := history.NewSetupResultRepository(db.DB, log)
	quenchRepo := history.NewQuenchEventRepository(db.DB, log)

	// Orchestrator with fan-out recording
	recorder := setup.MultiRecorder{resultRepo}
	if publisher != nil {
		recorder = append(recorder, publisher)
	}

	coordinator := setup.NewCoordinator()
	orchestrator := setup.New(machine, client, coordinator, recorder, cfg.Setup, log)
	orchestrator.SetStateListener(func(nodeID string, state setup.State) {
		if publisher != nil {
			publisher.PublishState(nodeID, state)
		}
		if influxClient != nil {
			influxClient.WriteStateTransition(nodeID, string(state))
		}
	})

	// Always-on quench monitoring
	sinks := quench.MultiSink{quenchRepo}
	if publisher != nil {
		sinks = append(sinks, publisher)
	}
	if influxClient != nil {
		sinks = append(sinks, influxQuenchSink{influxClient})
	}

	monitor := quench.NewMonitor(machine, client, coordinator, sinks,
		quench.Config{MachineWide: cfg.Setup.QuenchMachineWide}, log)
	if err := monitor.Start(ctx); err != nil {
		return fmt.Errorf("starting quench monitor: %w", err)
	}
	defer monitor.Stop()
	log.Info("quench monitor started", "machine_wide", cfg.Setup.QuenchMachineWide)

	// HTTP control surface
	server, err := api.New(api.Deps{
		Config:       cfg.API,
		Logger:       log,
		Machine:      machine,
		Orchestrator: orchestrator,
		DB:           db,
		Results:      resultRepo,
		Quenches:     quenchRepo,
		Sim:          simServer,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}
	defer func() {
		log.Info("stopping api server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing api server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// influxQuenchSink adapts the InfluxDB client to the quench event sink.
type influxQuenchSink struct {
	client *influxdb.Client
}

func (s influxQuenchSink) QuenchDetected(_ context.Context, event quench.Event) {
	s.client.WriteQuench(event.CavityID, event.MeasuredValue, event.Timestamp)
}

// getConfigPath returns the configuration file path.
// Uses the SCLINAC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SCLINAC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
