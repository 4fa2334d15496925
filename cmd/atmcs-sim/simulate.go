package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"atmcs-sim/internal/admin"
	"atmcs-sim/internal/config"
	"atmcs-sim/internal/logging"
	"atmcs-sim/internal/metrics"
	"atmcs-sim/internal/mount"
	"atmcs-sim/internal/scenario"
	"atmcs-sim/internal/sim"
)

var (
	simConfigPath string
	simSchemaPath string
	simTick       time.Duration
	simTelemetry  time.Duration
	simPrintOnly  bool
	simColor      string
	simTUI        bool
	simLogFile    string
	simSQLite     string
	simScenario   string
	simAdminAddr  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the real-time mount simulator",
	Long:  "simulate ticks the mount controller in real time, accepts commands over HTTP, the TUI prompt or a scenario script, and publishes telemetry and events.",
	RunE:  runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(simConfigPath, simSchemaPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("tick") {
		cfg.TickInterval = simTick
	}
	if cmd.Flags().Changed("telemetry") {
		cfg.TelemetryInterval = simTelemetry
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log := logging.FromContext(ctx)

	ws, err := newWriters(ctx, writerOptions{
		cfg:        cfg,
		printOnly:  simPrintOnly,
		color:      simColor,
		tui:        simTUI,
		logFile:    simLogFile,
		sqlitePath: simSQLite,
	})
	if err != nil {
		return err
	}
	defer ws.cleanup()
	if ws.tui != nil {
		// The TUI owns the terminal.
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		ctx = logging.NewContext(ctx, log)
	}

	mc, err := cfg.ControllerConfig()
	if err != nil {
		return err
	}
	ctrl, err := mount.NewController(mc, 0)
	if err != nil {
		return err
	}

	sessionID := os.Getenv("SESSION_ID")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	simulator, err := sim.NewSimulator(ctrl, ws.telemetry, ws.events, sim.Options{
		SessionID:         sessionID,
		TickInterval:      cfg.TickInterval,
		TelemetryInterval: cfg.TelemetryInterval,
		QueueSize:         cfg.CommandQueueSize,
		OutboxSize:        cfg.EventOutboxSize,
		Epoch:             time.Now(),
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return err
	}
	simulator.SetMetrics(collector)

	if simScenario != "" {
		sc, err := scenario.Resolve(simScenario)
		if err != nil {
			return err
		}
		log.Info("playing scenario", "name", sc.Name, "steps", len(sc.Steps))
		simulator.SetCommandSource(scenario.NewPlayer(sc))
	}

	if simAdminAddr != "" {
		srv := admin.NewServer(simulator, cfg, collector.Handler())
		go func() {
			if err := srv.Start(ctx, simAdminAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("admin server failed", "err", err)
				if ws.tui != nil {
					ws.tui.SetAdminStatus(false)
				}
			}
		}()
		if ws.tui != nil {
			ws.tui.SetAdminStatus(true)
		}
	}
	if ws.tui != nil {
		ws.tui.SetCommandHandler(func(c mount.Command) error {
			return simulator.Do(ctx, c)
		})
	}

	simulator.Run(ctx)
	log.Info("mount simulation stopped", "session_id", sessionID)
	return nil
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simConfigPath, "config", "config/mount.yaml", "Path to mount configuration YAML")
	f.StringVar(&simSchemaPath, "schema", "schemas/mount.cue", "Path to CUE schema file (empty skips schema validation)")
	f.DurationVar(&simTick, "tick", config.DefaultTickInterval, "Simulation tick period, overrides the config file")
	f.DurationVar(&simTelemetry, "telemetry", config.DefaultTelemetryInterval, "Telemetry publish period, overrides the config file")
	f.BoolVar(&simPrintOnly, "print-only", false, "Print telemetry to STDOUT instead of writing to GreptimeDB")
	f.StringVar(&simColor, "color", colorAuto, fmt.Sprintf("STDOUT format: %s, %s or %s", colorAuto, colorAlways, colorNever))
	f.BoolVar(&simTUI, "tui", false, "Show the interactive terminal UI")
	f.StringVar(&simLogFile, "log-file", "", "Path to export telemetry frames (JSONL); events go to <path>.events")
	f.StringVar(&simSQLite, "sqlite", "", "Record telemetry and events in this SQLite database")
	f.StringVar(&simScenario, "scenario", "", "Built-in scenario name or path to a scenario YAML")
	f.StringVar(&simAdminAddr, "admin-addr", ":8080", "Admin HTTP listen address (empty disables)")
}
