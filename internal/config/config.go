// YAML config loader with CUE validation integration
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"atmcs-sim/internal/axis"
	"atmcs-sim/internal/limits"
	"atmcs-sim/internal/m3"
	"atmcs-sim/internal/mount"
	"atmcs-sim/internal/planner"
)

// Axis defines the kinematic limits, soft range and park position of one axis.
type Axis struct {
	Min             float64  `yaml:"min"`
	Max             float64  `yaml:"max"`
	MaxVelocity     float64  `yaml:"max_velocity"`
	MaxAcceleration float64  `yaml:"max_acceleration"`
	MaxJerk         float64  `yaml:"max_jerk"`
	Park            *float64 `yaml:"park"`
	Wrap            string   `yaml:"wrap"`
}

// Mirror configures the M3 selector.
type Mirror struct {
	TransitDuration    float64  `yaml:"transit_duration"`
	InitialPort        int      `yaml:"initial_port"`
	BlockCoupledMotion bool     `yaml:"block_coupled_motion"`
	CoupledAxes        []string `yaml:"coupled_axes"`
}

// MountConfig is the root configuration. It is loaded once at startup and
// not modified afterwards.
type MountConfig struct {
	TickInterval      time.Duration   `yaml:"tick_interval"`
	TelemetryInterval time.Duration   `yaml:"telemetry_interval"`
	StalenessTimeout  float64         `yaml:"staleness_timeout"`
	SettleCount       int             `yaml:"settle_count"`
	TrackWindow       float64         `yaml:"track_window"`
	CommandQueueSize  int             `yaml:"command_queue_size"`
	EventOutboxSize   int             `yaml:"event_outbox_size"`
	Axes              map[string]Axis `yaml:"axes"`
	M3                Mirror          `yaml:"m3"`
}

// Defaults for optional settings.
const (
	DefaultTickInterval      = 50 * time.Millisecond
	DefaultTelemetryInterval = 250 * time.Millisecond
	DefaultSettleCount       = 3
	DefaultCommandQueueSize  = 64
	DefaultEventOutboxSize   = 256
)

// Load loads YAML config and validates it against a CUE schema. An empty
// schema path skips the CUE step; the Go checks always run.
func Load(configPath, cueSchemaPath string) (*MountConfig, error) {
	if cueSchemaPath != "" {
		if err := ValidateWithCue(configPath, cueSchemaPath); err != nil {
			return nil, err
		}
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document, applies defaults and environment
// overrides and validates the result.
func Parse(data []byte) (*MountConfig, error) {
	var cfg MountConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal YAML config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *MountConfig) applyDefaults() {
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.TelemetryInterval == 0 {
		c.TelemetryInterval = DefaultTelemetryInterval
	}
	if c.SettleCount == 0 {
		c.SettleCount = DefaultSettleCount
	}
	if c.TrackWindow == 0 {
		c.TrackWindow = 2 * c.TickInterval.Seconds()
	}
	if c.CommandQueueSize == 0 {
		c.CommandQueueSize = DefaultCommandQueueSize
	}
	if c.EventOutboxSize == 0 {
		c.EventOutboxSize = DefaultEventOutboxSize
	}
	if c.M3.InitialPort == 0 {
		c.M3.InitialPort = int(m3.Port1)
	}
}

// applyEnv overrides the tick period from TICK_INTERVAL.
func (c *MountConfig) applyEnv() error {
	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TICK_INTERVAL: %w", err)
		}
		c.TickInterval = d
	}
	return nil
}

// Validate checks the cross-field rules the schema cannot express.
func (c *MountConfig) Validate() error {
	var errs []error
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be > 0, got %s", c.TickInterval))
	}
	if c.TelemetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("telemetry_interval must be > 0, got %s", c.TelemetryInterval))
	}
	if !(c.StalenessTimeout > 0) {
		errs = append(errs, fmt.Errorf("staleness_timeout must be > 0, got %g", c.StalenessTimeout))
	}
	if c.SettleCount < 1 {
		errs = append(errs, fmt.Errorf("settle_count must be >= 1, got %d", c.SettleCount))
	}
	if c.TrackWindow < 0 {
		errs = append(errs, fmt.Errorf("track_window must be >= 0, got %g", c.TrackWindow))
	}
	if c.CommandQueueSize < 1 {
		errs = append(errs, fmt.Errorf("command_queue_size must be >= 1, got %d", c.CommandQueueSize))
	}
	for name := range c.Axes {
		if _, err := axis.ParseID(name); err != nil {
			errs = append(errs, err)
		}
	}
	for _, id := range axis.All {
		a, ok := c.Axes[id.String()]
		if !ok {
			errs = append(errs, fmt.Errorf("axes.%s: missing", id))
			continue
		}
		if err := a.validate(); err != nil {
			errs = append(errs, fmt.Errorf("axes.%s: %w", id, err))
		}
	}
	if c.M3.TransitDuration < 0 {
		errs = append(errs, fmt.Errorf("m3.transit_duration must be >= 0, got %g", c.M3.TransitDuration))
	}
	if !m3.Port(c.M3.InitialPort).Valid() {
		errs = append(errs, fmt.Errorf("m3.initial_port: %w: %d", m3.ErrInvalidPort, c.M3.InitialPort))
	}
	for _, name := range c.M3.CoupledAxes {
		if _, err := axis.ParseID(name); err != nil {
			errs = append(errs, fmt.Errorf("m3.coupled_axes: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a Axis) validate() error {
	if !(a.Min < a.Max) {
		return fmt.Errorf("min %g must be < max %g", a.Min, a.Max)
	}
	lim := planner.Limits{MaxVelocity: a.MaxVelocity, MaxAcceleration: a.MaxAcceleration, MaxJerk: a.MaxJerk}
	if err := lim.Validate(); err != nil {
		return err
	}
	wrap, err := limits.ParseWrapPolicy(a.Wrap)
	if err != nil {
		return err
	}
	if wrap != limits.WrapNone && a.Max-a.Min <= 360 {
		return fmt.Errorf("wrap %s needs a range wider than 360, got [%g, %g]", wrap, a.Min, a.Max)
	}
	if a.Park != nil && (*a.Park < a.Min || *a.Park > a.Max) {
		return fmt.Errorf("park %g outside [%g, %g]", *a.Park, a.Min, a.Max)
	}
	return nil
}

// ParkPosition returns the configured park position or the default one.
func (a Axis) ParkPosition() float64 {
	if a.Park != nil {
		return *a.Park
	}
	return limits.Axis{Min: a.Min, Max: a.Max}.DefaultPark()
}

// ControllerConfig converts the file representation into the mount
// controller configuration.
func (c *MountConfig) ControllerConfig() (mount.Config, error) {
	out := mount.Config{
		Axes:             make(map[axis.ID]mount.AxisConfig, len(axis.All)),
		StalenessTimeout: c.StalenessTimeout,
		SettleCount:      c.SettleCount,
		TrackWindow:      c.TrackWindow,
		M3: m3.Config{
			TransitDuration:    c.M3.TransitDuration,
			InitialPort:        m3.Port(c.M3.InitialPort),
			BlockCoupledMotion: c.M3.BlockCoupledMotion,
		},
	}
	for name, a := range c.Axes {
		id, err := axis.ParseID(name)
		if err != nil {
			return mount.Config{}, err
		}
		wrap, err := limits.ParseWrapPolicy(a.Wrap)
		if err != nil {
			return mount.Config{}, fmt.Errorf("axes.%s: %w", name, err)
		}
		out.Axes[id] = mount.AxisConfig{
			Limits: planner.Limits{MaxVelocity: a.MaxVelocity, MaxAcceleration: a.MaxAcceleration, MaxJerk: a.MaxJerk},
			Min:    a.Min,
			Max:    a.Max,
			Park:   a.ParkPosition(),
			Wrap:   wrap,
		}
	}
	for _, name := range c.M3.CoupledAxes {
		id, err := axis.ParseID(name)
		if err != nil {
			return mount.Config{}, fmt.Errorf("m3.coupled_axes: %w", err)
		}
		out.M3.CoupledAxes = append(out.M3.CoupledAxes, id)
	}
	return out, nil
}
