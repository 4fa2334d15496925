// Package m3 models the tertiary mirror selector: three discrete ports and
// a timed transit between them.
package m3

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"atmcs-sim/internal/axis"
)

var (
	// ErrBusy is returned when a move is requested while the mirror is in
	// transit.
	ErrBusy = errors.New("mirror selector in transit")
	// ErrInvalidPort is returned for ports other than 1, 2 and 3.
	ErrInvalidPort = errors.New("invalid mirror port")
)

// Port is a mirror port number.
type Port int

const (
	Port1 Port = iota + 1
	Port2
	Port3
)

func (p Port) Valid() bool { return p >= Port1 && p <= Port3 }

func (p Port) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Port(%d)", int(p))
	}
	return "Port" + strconv.Itoa(int(p))
}

// ParsePort accepts "2", "port2" or "Port2".
func ParsePort(s string) (Port, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "port"))
	if err != nil || !Port(n).Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}
	return Port(n), nil
}

func (p Port) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Port) UnmarshalText(b []byte) error {
	v, err := ParsePort(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Position is the mirror state. While InTransit, Port is the destination
// and TransitEnd the simulation time of arrival.
type Position struct {
	Port       Port    `json:"port"`
	InTransit  bool    `json:"in_transit"`
	TransitEnd float64 `json:"transit_end,omitempty"`
}

func (p Position) String() string {
	if p.InTransit {
		return "InTransit"
	}
	return p.Port.String()
}

// Config configures the selector.
type Config struct {
	TransitDuration float64
	InitialPort     Port
	// BlockCoupledMotion rejects motion of CoupledAxes during transit.
	BlockCoupledMotion bool
	CoupledAxes        []axis.ID
}

// Selector is the mirror state machine. Not safe for concurrent use.
type Selector struct {
	cfg     Config
	pos     Position
	coupled map[axis.ID]bool
}

// New returns a selector settled at the initial port (Port1 when unset).
func New(cfg Config) (*Selector, error) {
	if cfg.InitialPort == 0 {
		cfg.InitialPort = Port1
	}
	if !cfg.InitialPort.Valid() {
		return nil, fmt.Errorf("initial port: %w: %d", ErrInvalidPort, cfg.InitialPort)
	}
	if cfg.TransitDuration < 0 {
		return nil, fmt.Errorf("transit duration must be >= 0, got %g", cfg.TransitDuration)
	}
	s := &Selector{cfg: cfg, pos: Position{Port: cfg.InitialPort}, coupled: map[axis.ID]bool{}}
	for _, id := range cfg.CoupledAxes {
		s.coupled[id] = true
	}
	return s, nil
}

// Position returns the current mirror state.
func (s *Selector) Position() Position { return s.pos }

// InTransit reports whether the mirror is moving.
func (s *Selector) InTransit() bool { return s.pos.InTransit }

// RequestMove starts a transit to port. Requesting the current port is a
// no-op and reports false.
func (s *Selector) RequestMove(port Port, now float64) (bool, error) {
	if !port.Valid() {
		return false, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if s.pos.InTransit {
		return false, fmt.Errorf("%w: moving to %s until t=%g", ErrBusy, s.pos.Port, s.pos.TransitEnd)
	}
	if port == s.pos.Port {
		return false, nil
	}
	s.pos = Position{Port: port, InTransit: true, TransitEnd: now + s.cfg.TransitDuration}
	return true, nil
}

// Advance settles a transit whose end time has been reached. It returns the
// port and true exactly once per transit.
func (s *Selector) Advance(now float64) (Port, bool) {
	if !s.pos.InTransit || now < s.pos.TransitEnd {
		return 0, false
	}
	s.pos = Position{Port: s.pos.Port}
	return s.pos.Port, true
}

// MotionBlocked reports whether commands for the axis must be rejected
// because the mirror is in transit.
func (s *Selector) MotionBlocked(id axis.ID) bool {
	return s.pos.InTransit && s.cfg.BlockCoupledMotion && s.coupled[id]
}
