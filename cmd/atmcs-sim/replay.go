package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"atmcs-sim/internal/logging"
	"atmcs-sim/internal/sim"
	"atmcs-sim/internal/store"
)

var (
	replayInput     string
	replaySQLite    string
	replaySession   string
	replaySpeed     float64
	replayPrintOnly bool
	replayColor     string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay recorded telemetry",
	Long:  "replay feeds telemetry frames from a JSONL log or a SQLite recording back into GreptimeDB or STDOUT.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if (replayInput == "") == (replaySQLite == "") {
			return errors.New("exactly one of --input or --sqlite is required")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		log := logging.FromContext(ctx)

		writer, _, err := baseWriter(writerOptions{printOnly: replayPrintOnly, color: replayColor})
		if err != nil {
			return err
		}

		var n int
		if replayInput != "" {
			n, err = sim.ReplayLogFile(ctx, replayInput, writer, replaySpeed)
		} else {
			n, err = replayRecording(ctx, writer)
		}
		log.Info("replay finished", "frames", n)
		return err
	},
}

func replayRecording(ctx context.Context, writer sim.TelemetryWriter) (int, error) {
	st, err := store.Open(ctx, replaySQLite, logging.FromContext(ctx))
	if err != nil {
		return 0, err
	}
	defer st.Close()
	session := replaySession
	if session == "" {
		sessions, err := st.Sessions(ctx)
		if err != nil {
			return 0, err
		}
		if len(sessions) == 0 {
			return 0, fmt.Errorf("%s holds no sessions", replaySQLite)
		}
		session = sessions[len(sessions)-1]
	}
	frames, err := st.Frames(ctx, session)
	if err != nil {
		return 0, err
	}
	return sim.ReplayFrames(ctx, frames, writer, replaySpeed)
}

func init() {
	f := replayCmd.Flags()
	f.StringVar(&replayInput, "input", "", "Path to a JSONL telemetry log")
	f.StringVar(&replaySQLite, "sqlite", "", "Path to a SQLite recording")
	f.StringVar(&replaySession, "session", "", "Session to replay from the recording (default: latest)")
	f.Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier (0 disables pacing)")
	f.BoolVar(&replayPrintOnly, "print-only", false, "Print telemetry to STDOUT instead of writing to GreptimeDB")
	f.StringVar(&replayColor, "color", colorAuto, "STDOUT format: auto, always or never")
}
