package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/speedgate/internal/api"
	"github.com/banshee-data/speedgate/internal/camera"
	"github.com/banshee-data/speedgate/internal/config"
	"github.com/banshee-data/speedgate/internal/control"
	"github.com/banshee-data/speedgate/internal/db"
	"github.com/banshee-data/speedgate/internal/gate"
	"github.com/banshee-data/speedgate/internal/queue"
	"github.com/banshee-data/speedgate/internal/serialmux"
	"github.com/banshee-data/speedgate/internal/traffic"
	"github.com/banshee-data/speedgate/internal/units"
	"github.com/banshee-data/speedgate/internal/version"
)

var (
	configPath       = flag.String("config", "", "Path to the gate config JSON (built-in defaults when empty)")
	listen           = flag.String("listen", ":8080", "Listen address")
	port             = flag.String("port", "/dev/ttySC1", "Serial port of the gate controller (ignored in dev mode; empty disables serial)")
	devMode          = flag.Bool("dev", false, "Run in dev mode with a simulated gate controller and camera")
	dbPath           = flag.String("db-path", "speedgate.db", "Path to the record log database (empty disables persistence)")
	mqttBroker       = flag.String("mqtt-broker", "", "MQTT broker URL of the enforcement camera, e.g. tcp://localhost:1883")
	mqttTriggerTopic = flag.String("mqtt-trigger-topic", "speedgate/camera/trigger", "MQTT topic camera triggers are published to")
	mqttResultTopic  = flag.String("mqtt-result-topic", "speedgate/camera/result", "MQTT topic camera results are read from")
	unitsFlag        = flag.String("units", "", "Speed units for API output, overrides the config file ("+units.GetValidUnitsString()+")")
	timezone         = flag.String("timezone", "UTC", "Timezone for API timestamps")
	versionFlag      = flag.Bool("version", false, "Print version and exit")
)

// loadGateConfig returns the config at path, or an empty config (all
// defaults) when path is empty.
func loadGateConfig(path string) (*config.GateConfig, error) {
	if path == "" {
		return &config.GateConfig{}, nil
	}
	return config.LoadGateConfig(path)
}

func limitsFromConfig(cfg *config.GateConfig) control.Limits {
	return control.Limits{
		DistanceMM:     cfg.GetDistanceMM(),
		LightLimitKMH:  cfg.GetLightLimitKMH(),
		HeavyLimitKMH:  cfg.GetHeavyLimitKMH(),
		WarningPercent: cfg.GetWarningPercent(),
	}
}

// resolveUnits prefers the -units flag over the config file.
func resolveUnits(flagValue string, cfg *config.GateConfig) (string, error) {
	if flagValue == "" {
		return cfg.GetUnits(), nil
	}
	if !units.IsValid(flagValue) {
		return "", fmt.Errorf("invalid units %q; must be one of: %s", flagValue, units.GetValidUnitsString())
	}
	return flagValue, nil
}

func openSerial(distanceMM uint32) (serialmux.SerialMuxInterface, error) {
	switch {
	case *devMode:
		return serialmux.NewMockSerialMux(4*time.Second, distanceMM, uint64(time.Now().UnixNano())), nil
	case *port == "":
		log.Printf("serial disabled; the gate will not see any vehicles")
		return serialmux.NewDisabledSerialMux(), nil
	default:
		return serialmux.NewRealSerialMux(*port, serialmux.PortOptions{})
	}
}

// Main
func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.String())
		return
	}

	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !units.IsTimezoneValid(*timezone) {
		log.Fatalf("invalid timezone %q", *timezone)
	}

	cfg, err := loadGateConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	displayUnits, err := resolveUnits(*unitsFlag, cfg)
	if err != nil {
		log.Fatal(err)
	}
	limits := limitsFromConfig(cfg)
	log.Printf("%s: gate %s, %d mm, limits light=%d heavy=%d km/h, warning at %d%%",
		version.String(), cfg.GetGateID(), limits.DistanceMM, limits.LightLimitKMH, limits.HeavyLimitKMH, limits.WarningPercent)

	var database *db.DB
	if *dbPath != "" {
		database, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
	}

	// pipeline hand-off points
	transits := queue.NewBounded[traffic.TransitRecord]("transit", cfg.GetTransitQueueCapacity())
	display := queue.NewBounded[traffic.DisplayRecord]("display", cfg.GetDisplayQueueCapacity())
	triggers := queue.NewTopic[traffic.CameraTrigger]("camera trigger")
	results := queue.NewTopic[traffic.CameraResult]("camera result")
	defer triggers.Close()
	defer results.Close()

	station := gate.NewStation(gate.StationConfig{
		GateID:            cfg.GetGateID(),
		InactivityTimeout: cfg.GetInactivityTimeout(),
		EdgeBuffer:        cfg.GetEdgeBuffer(),
	}, transits)

	controller, err := control.NewController(control.Config{
		Limits:         limits,
		PollInterval:   cfg.GetPollInterval(),
		ResultCapacity: cfg.GetResultCapacity(),
	}, control.Pipes{Transits: transits, Display: display, Triggers: triggers, Results: results})
	if err != nil {
		log.Fatalf("failed to create controller: %v", err)
	}

	displayWorker := db.NewDisplayWorker(database, display, cfg.GetGateID())

	gateSerial, err := openSerial(limits.DistanceMM)
	if err != nil {
		log.Fatalf("failed to open gate controller: %v", err)
	}
	defer gateSerial.Close()
	if err := gateSerial.Initialise(); err != nil {
		log.Fatalf("failed to initialise gate controller: %v", err)
	}
	forwarder := serialmux.NewForwarder(station)

	// Create a wait group for the pipeline, camera and HTTP server routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	routine := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("%s: %v", name, err)
			}
			log.Printf("%s routine terminated", name)
		}()
	}

	routine("station", station.Run)
	routine("controller", controller.Run)
	routine("display", displayWorker.Run)
	routine("serial monitor", gateSerial.Monitor)
	routine("serial forwarder", func(ctx context.Context) error { return forwarder.Run(ctx, gateSerial) })

	switch {
	case *mqttBroker != "":
		bridge := camera.NewMQTTBridge(camera.MQTTConfig{
			BrokerURL:       *mqttBroker,
			TriggerTopic:    *mqttTriggerTopic,
			ResultTopic:     *mqttResultTopic,
			QoS:             1,
			TriggerCapacity: cfg.GetTriggerCapacity(),
		}, triggers, results)
		routine("camera bridge", bridge.Run)
	case *devMode:
		sim := camera.NewSimulator(camera.SimulatorConfig{
			Latency:         150 * time.Millisecond,
			UnreadableRate:  0.1,
			Seed:            uint64(time.Now().UnixNano()),
			TriggerCapacity: cfg.GetTriggerCapacity(),
		}, triggers, results)
		routine("camera simulator", sim.Run)
	default:
		log.Printf("no camera configured; an external camera can follow /api/camera/triggers and post to /api/camera/results")
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		api.NewServer(api.Options{
			DB:              database,
			GateID:          cfg.GetGateID(),
			Units:           displayUnits,
			Timezone:        *timezone,
			Config:          cfg,
			Station:         station,
			Controller:      controller,
			Forwarder:       forwarder,
			Serial:          gateSerial,
			Display:         displayWorker,
			Transits:        transits,
			DisplayQueue:    display,
			Triggers:        triggers,
			Results:         results,
			TriggerCapacity: cfg.GetTriggerCapacity(),
		}).AttachRoutes(mux)

		// mount the admin debugging routes (accessible only from localhost or over Tailscale)
		gateSerial.AttachAdminRoutes(mux)
		if database != nil {
			database.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
