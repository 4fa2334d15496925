package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"atmcs-sim/internal/axis"
	"atmcs-sim/internal/config"
	"atmcs-sim/internal/scenario"
)

var (
	validateConfigPath string
	validateSchemaPath string
	validateScenario   string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a mount configuration and optional scenario",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(validateConfigPath, validateSchemaPath)
		if err != nil {
			return err
		}
		if _, err := cfg.ControllerConfig(); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: ok (tick %s, telemetry %s, staleness %gs)\n",
			validateConfigPath, cfg.TickInterval, cfg.TelemetryInterval, cfg.StalenessTimeout)
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "axis\tmin\tmax\tvmax\tamax\tpark\twrap")
		for _, id := range axis.All {
			a := cfg.Axes[id.String()]
			wrap := a.Wrap
			if wrap == "" {
				wrap = "none"
			}
			fmt.Fprintf(tw, "%s\t%g\t%g\t%g\t%g\t%g\t%s\n", id, a.Min, a.Max, a.MaxVelocity, a.MaxAcceleration, a.ParkPosition(), wrap)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		if validateScenario != "" {
			sc, err := scenario.Resolve(validateScenario)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "scenario %q: ok (%d commands)\n", sc.Name, scenario.NewPlayer(sc).Remaining())
		}
		return nil
	},
}

func init() {
	f := validateCmd.Flags()
	f.StringVar(&validateConfigPath, "config", "config/mount.yaml", "Path to mount configuration YAML")
	f.StringVar(&validateSchemaPath, "schema", "schemas/mount.cue", "Path to CUE schema file")
	f.StringVar(&validateScenario, "scenario", "", "Built-in scenario name or path to a scenario YAML")
}
