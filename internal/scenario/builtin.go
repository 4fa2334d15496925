package scenario

import "atmcs-sim/internal/mount"

// BuiltIn returns the predefined scenarios.
func BuiltIn() map[string]Scenario {
	return map[string]Scenario{
		"sidereal": {
			Name:        "Sidereal",
			Description: "Enable, slew to a target and follow it with a steady stream of demands.",
			Steps: []Step{
				{At: 0, Command: StepEnable},
				{At: 0.5, Command: StepTrack, Every: 0.5, Until: 60, Target: map[string]mount.AxisTarget{
					"azimuth":   {Position: 30, Velocity: 0.05},
					"elevation": {Position: 60, Velocity: 0.02},
					"rotator1":  {Position: 10, Velocity: -0.01},
				}},
				{At: 61, Command: StepStop},
			},
		},
		"port-switch": {
			Name:        "Port Switch",
			Description: "Park the rotators, move M3 through every port and resume tracking.",
			Steps: []Step{
				{At: 0, Command: StepEnable},
				{At: 1, Command: StepM3, Port: 2},
				{At: 8, Command: StepM3, Port: 3},
				{At: 15, Command: StepM3, Port: 1},
				{At: 21, Command: StepTrack, Every: 0.5, Until: 40, Target: map[string]mount.AxisTarget{
					"azimuth":   {Position: -45, Velocity: 0.1},
					"elevation": {Position: 45},
				}},
			},
		},
		"stale-feed": {
			Name:        "Stale Feed",
			Description: "Track for a while, then stop sending demands so tracking is lost.",
			Steps: []Step{
				{At: 0, Command: StepEnable},
				{At: 0.5, Command: StepTrack, Every: 0.5, Until: 10, Target: map[string]mount.AxisTarget{
					"azimuth":   {Position: 5, Velocity: 0.2},
					"elevation": {Position: 70},
				}},
			},
		},
		"fault-recovery": {
			Name:        "Fault Recovery",
			Description: "Inject a fault mid-slew, reset and re-enable.",
			Steps: []Step{
				{At: 0, Command: StepEnable},
				{At: 0.5, Command: StepTrack, Target: map[string]mount.AxisTarget{
					"azimuth":   {Position: 120},
					"elevation": {Position: 30},
				}},
				{At: 5, Command: StepFault, Reason: "drive amplifier trip"},
				{At: 10, Command: StepReset},
				{At: 11, Command: StepEnable},
				{At: 12, Command: StepTrack, ValidFor: 5, Target: map[string]mount.AxisTarget{
					"azimuth":   {Position: 0},
					"elevation": {Position: 80},
				}},
			},
		},
	}
}
