// Package scenario plays scripted mount commands at fixed simulation times.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"atmcs-sim/internal/axis"
	"atmcs-sim/internal/m3"
	"atmcs-sim/internal/mount"
)

// Step kinds.
const (
	StepEnable  = "enable"
	StepDisable = "disable"
	StepReset   = "reset"
	StepStop    = "stop"
	StepTrack   = "track"
	StepM3      = "m3"
	StepFault   = "fault"
)

// Scenario is an ordered script of commands.
type Scenario struct {
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Steps       []Step `yaml:"steps"`
}

// Step issues one command at simulation time At. A track step with Every
// set repeats until Until, moving each axis along its velocity.
type Step struct {
	At       float64                     `yaml:"at"`
	Command  string                      `yaml:"command"`
	Port     int                         `yaml:"port,omitempty"`
	Reason   string                      `yaml:"reason,omitempty"`
	Target   map[string]mount.AxisTarget `yaml:"target,omitempty"`
	Every    float64                     `yaml:"every,omitempty"`
	Until    float64                     `yaml:"until,omitempty"`
	ValidFor float64                     `yaml:"valid_for,omitempty"`
}

// Load reads a YAML scenario definition from disk.
func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	s, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a scenario document.
func Parse(b []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Resolve returns the built-in scenario called name, or loads name as a
// file path.
func Resolve(name string) (*Scenario, error) {
	if s, ok := BuiltIn()[name]; ok {
		return &s, nil
	}
	return Load(name)
}

// Validate checks every step.
func (s *Scenario) Validate() error {
	var errs []error
	for i, st := range s.Steps {
		if err := st.validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i, st.Command, err))
		}
	}
	return errors.Join(errs...)
}

func (st Step) validate() error {
	if st.At < 0 {
		return fmt.Errorf("at must be >= 0, got %g", st.At)
	}
	switch strings.ToLower(st.Command) {
	case StepEnable, StepDisable, StepReset, StepStop, StepFault:
	case StepM3:
		if !m3.Port(st.Port).Valid() {
			return fmt.Errorf("%w: %d", m3.ErrInvalidPort, st.Port)
		}
	case StepTrack:
		for name := range st.Target {
			if _, err := axis.ParseID(name); err != nil {
				return err
			}
		}
		if st.Every < 0 || st.ValidFor < 0 {
			return errors.New("every and valid_for must be >= 0")
		}
		if st.Every > 0 && st.Until < st.At {
			return fmt.Errorf("until %g precedes at %g", st.Until, st.At)
		}
	default:
		return fmt.Errorf("unknown command %q", st.Command)
	}
	if strings.ToLower(st.Command) != StepTrack && (st.Every != 0 || st.Until != 0) {
		return errors.New("only track steps repeat")
	}
	return nil
}

// command builds the command the step issues at simulation time t.
func (st Step) command(t float64) mount.Command {
	switch strings.ToLower(st.Command) {
	case StepEnable:
		return mount.Enable()
	case StepDisable:
		return mount.Disable()
	case StepReset:
		return mount.ResetFault()
	case StepStop:
		return mount.StopTracking()
	case StepM3:
		return mount.MoveM3(m3.Port(st.Port))
	case StepFault:
		reason := st.Reason
		if reason == "" {
			reason = "scenario"
		}
		return mount.InjectFault(reason)
	}
	dt := t - st.At
	tgt := mount.TrackTarget{Time: t}
	for name, at := range st.Target {
		id, _ := axis.ParseID(name)
		tgt.SetAxis(id, mount.AxisTarget{Position: at.Position + at.Velocity*dt, Velocity: at.Velocity})
	}
	if st.ValidFor > 0 {
		tgt.ValidUntil = t + st.ValidFor
	}
	return mount.Track(tgt)
}

// times lists the issue times of the step.
func (st Step) times() []float64 {
	if st.Every <= 0 {
		return []float64{st.At}
	}
	n := int((st.Until-st.At)/st.Every+1e-9) + 1
	out := make([]float64, n)
	for i := range out {
		out[i] = st.At + float64(i)*st.Every
	}
	return out
}

type scheduled struct {
	at   float64
	step int
}

// Player issues the steps of a scenario as their times come due. It
// implements the simulator's command source.
type Player struct {
	scenario *Scenario
	queue    []scheduled
	next     int
}

// NewPlayer schedules every step of s.
func NewPlayer(s *Scenario) *Player {
	p := &Player{scenario: s}
	for i, st := range s.Steps {
		for _, t := range st.times() {
			p.queue = append(p.queue, scheduled{at: t, step: i})
		}
	}
	sort.SliceStable(p.queue, func(i, j int) bool { return p.queue[i].at < p.queue[j].at })
	return p
}

// Due returns the commands scheduled at or before now that were not
// issued yet, in schedule order.
func (p *Player) Due(now float64) []mount.Command {
	var out []mount.Command
	for p.next < len(p.queue) && p.queue[p.next].at <= now+1e-9 {
		q := p.queue[p.next]
		out = append(out, p.scenario.Steps[q.step].command(q.at))
		p.next++
	}
	return out
}

// Remaining returns the number of commands not issued yet.
func (p *Player) Remaining() int { return len(p.queue) - p.next }

// Done reports whether every command was issued.
func (p *Player) Done() bool { return p.Remaining() == 0 }
