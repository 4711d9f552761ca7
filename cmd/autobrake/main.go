package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/autobrake/internal/actuator"
	"github.com/banshee-data/autobrake/internal/brake"
	"github.com/banshee-data/autobrake/internal/config"
	"github.com/banshee-data/autobrake/internal/control"
	"github.com/banshee-data/autobrake/internal/db"
	"github.com/banshee-data/autobrake/internal/monitoring"
	"github.com/banshee-data/autobrake/internal/sensor"
	"github.com/banshee-data/autobrake/internal/serialmux"
	"github.com/banshee-data/autobrake/internal/speed"
	"github.com/banshee-data/autobrake/internal/timeutil"
	"github.com/banshee-data/autobrake/internal/version"
)

var (
	configPath   = flag.String("config", "", "Path to a JSON config file (built-in defaults when empty)")
	listen       = flag.String("listen", "", "Debug HTTP listen address, e.g. localhost:8080 (disabled when empty)")
	actuatorPort = flag.String("actuator-port", "", "Override the brake controller serial port")
	sensorPort   = flag.String("sensor-port", "", "Override the scan bridge serial port")
	source       = flag.String("source", "", "Override the range source: serial, sim or replay")
	scenario     = flag.String("scenario", "", "Simulator scenario: safe, approach, dropout or corner")
	replayRun    = flag.String("replay-run", "", "Run id to replay from the tick log")
	dbPath       = flag.String("db", "", "Override the tick log path")
	noRecord     = flag.Bool("no-record", false, "Do not write ticks to the tick log")
	dryRun       = flag.Bool("dry-run", false, "Do not open the brake controller; commands are logged and dropped")
	debugLog     = flag.String("debug-log", "", "Append per-tick diagnostics to this file")
	showVersion  = flag.Bool("version", false, "Print the build version and exit")
)

// applyOverrides folds command-line overrides into cfg.
func applyOverrides(cfg *config.Config) {
	if *actuatorPort != "" {
		cfg.Actuator.Port = *actuatorPort
	}
	if *sensorPort != "" {
		cfg.Sensor.Port = *sensorPort
	}
	if *source != "" {
		cfg.Sensor.Source = *source
	}
	if *scenario != "" {
		cfg.Sensor.Scenario = *scenario
	}
	if *replayRun != "" {
		cfg.Sensor.ReplayRunID = *replayRun
		cfg.Sensor.Source = "replay"
	}
	if *dbPath != "" {
		cfg.Recorder.Path = *dbPath
	}
	if *noRecord {
		cfg.Recorder.Disabled = true
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			return nil, err
		}
	}
	applyOverrides(cfg)
	return cfg, cfg.Validate()
}

// portList puts primary ahead of the fallbacks.
func portList(primary string, fallbacks []string) []string {
	return append([]string{primary}, fallbacks...)
}

// sweepAngles is the startup servo check: release, full brake, release.
func sweepAngles(cfg config.ActuatorConfig) []int {
	safe, strong := cfg.Angles[brake.LevelSafe], cfg.Angles[brake.LevelStrong]
	return []int{safe, strong, safe}
}

const sweepDwell = 800 * time.Millisecond

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}
	log.Print(version.String())

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if *debugLog != "" {
		f, err := os.OpenFile(*debugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("failed to open debug log: %v", err)
		}
		defer f.Close()
		monitoring.SetDebugLogger(f)
		control.SetDebugLogger(f)
	}

	clock := timeutil.RealClock{}
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The tick log is needed to record and to replay.
	var store *db.DB
	if !cfg.Recorder.Disabled || cfg.Sensor.Source == "replay" {
		store, err = db.NewDB(cfg.Recorder.Path)
		if err != nil {
			log.Fatalf("failed to open tick log: %v", err)
		}
		defer store.Close()
	}

	monitor := func(m serialmux.SerialMuxInterface) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Monitor(ctx); err != nil && err != context.Canceled {
				log.Printf("%s: monitor stopped: %v", m.Name(), err)
			}
		}()
	}

	var actuatorMux serialmux.SerialMuxInterface
	if *dryRun {
		actuatorMux = serialmux.NewDisabledSerialMux("actuator")
		log.Printf("dry run: brake controller commands are not sent")
	} else {
		m, path, err := serialmux.OpenFirst("actuator", portList(cfg.Actuator.Port, cfg.Actuator.FallbackPorts),
			serialmux.PortOptions{BaudRate: cfg.Actuator.BaudRate}, serialmux.RealOpener)
		if err != nil {
			log.Fatalf("failed to open brake controller: %v", err)
		}
		log.Printf("brake controller on %s", path)
		actuatorMux = m
	}
	defer actuatorMux.Close()
	monitor(actuatorMux)

	var sensorMux serialmux.SerialMuxInterface
	if cfg.Sensor.Source == "serial" {
		m, path, err := serialmux.OpenFirst("lidar", portList(cfg.Sensor.Port, cfg.Sensor.FallbackPorts),
			serialmux.PortOptions{BaudRate: cfg.Sensor.BaudRate}, serialmux.RealOpener)
		if err != nil {
			log.Fatalf("failed to open scan bridge: %v", err)
		}
		log.Printf("scan bridge on %s", path)
		sensorMux = m
		defer sensorMux.Close()
		monitor(sensorMux)
	}

	src, err := sensor.New(ctx, cfg.Sensor, sensor.Deps{Mux: sensorMux, Store: store, Clock: clock})
	if err != nil {
		log.Fatalf("failed to create range source: %v", err)
	}

	link := actuator.NewLink(cfg.Actuator, actuatorMux, clock)
	defer link.Close()

	// Simulated and replayed runs carry their own speed.
	var telemetry speed.TelemetrySource = link
	if ts, ok := src.(speed.TelemetrySource); ok {
		telemetry = ts
	}
	estimator := speed.NewEstimator(cfg.Speed, telemetry, clock)
	wg.Add(1)
	go func() {
		defer wg.Done()
		estimator.Run(ctx)
	}()

	if err := link.Handshake(true); err != nil {
		log.Printf("brake controller handshake incomplete: %v", err)
	}
	if cfg.Control.StartupCheck {
		if err := link.SweepCheck(ctx, sweepAngles(cfg.Actuator), sweepDwell); err != nil {
			log.Printf("servo sweep check failed: %v", err)
		}
	}
	if err := src.Start(ctx); err != nil {
		link.Neutralize()
		log.Fatalf("failed to start range source: %v", err)
	}

	deps := control.Deps{Source: src, Actuator: link, Speed: estimator, Clock: clock}
	var runID string
	if store != nil && !cfg.Recorder.Disabled {
		runID, err = store.StartRun(ctx, clock.Now(), cfg.Sensor.Source, cfg.JSON())
		if err != nil {
			log.Fatalf("failed to start run: %v", err)
		}
		rec := db.NewTickRecorder(store, cfg.Recorder.Buffer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Run(ctx)
		}()
		deps.Recorder = rec
		deps.RunID = runID
		log.Printf("recording run %s to %s", runID, cfg.Recorder.Path)
	}

	loop := control.NewLoop(cfg, deps)

	if *listen != "" {
		mux := http.NewServeMux()
		actuatorMux.AttachAdminRoutes(mux)
		if sensorMux != nil {
			sensorMux.AttachAdminRoutes(mux)
		}
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Printf("tick log admin routes unavailable: %v", err)
			}
		}
		loop.AttachAdminRoutes(mux)

		server := &http.Server{Addr: *listen, Handler: mux}
		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("debug server failed: %v", err)
				}
			}()
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("debug server shutdown error: %v", err)
				server.Close()
			}
		}()
		log.Printf("debug server on %s", *listen)
	}

	if err := loop.Run(ctx); err != nil {
		log.Printf("control loop stopped: %v", err)
	}
	loop.Shutdown()
	stop()
	wg.Wait()

	if runID != "" {
		if err := store.FinishRun(context.Background(), runID, clock.Now()); err != nil {
			log.Printf("failed to finish run: %v", err)
		}
	}
	st := loop.Stats()
	log.Printf("stopped after %d ticks (%d overruns, %d sensor errors, %d link errors)",
		st.Ticks, st.Overruns, st.SensorErrors, st.LinkErrors)
}
