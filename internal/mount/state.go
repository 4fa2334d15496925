package mount

import (
	"fmt"
	"strings"
)

// OperationalState is the top-level command/fault state.
type OperationalState int

const (
	Disabled OperationalState = iota
	EnabledIdle
	EnabledTracking
	Fault
)

var operationalStateNames = [...]string{"disabled", "enabledIdle", "enabledTracking", "fault"}

// OperationalStates lists every state, for table checks.
var OperationalStates = [...]OperationalState{Disabled, EnabledIdle, EnabledTracking, Fault}

func (s OperationalState) String() string {
	if s < 0 || int(s) >= len(operationalStateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return operationalStateNames[s]
}

func (s OperationalState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *OperationalState) UnmarshalText(b []byte) error {
	for i, name := range operationalStateNames {
		if strings.EqualFold(string(b), name) {
			*s = OperationalState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown operational state %q", string(b))
}

// CommandKind enumerates the inbound commands.
type CommandKind int

const (
	CmdEnable CommandKind = iota
	CmdDisable
	CmdResetFault
	CmdTrackTarget
	CmdStopTracking
	CmdMoveM3
	CmdInjectFault
)

var commandKindNames = [...]string{"enable", "disable", "resetFault", "trackTarget", "stopTracking", "moveM3", "injectFault"}

// CommandKinds lists every command kind, for table checks.
var CommandKinds = [...]CommandKind{CmdEnable, CmdDisable, CmdResetFault, CmdTrackTarget, CmdStopTracking, CmdMoveM3, CmdInjectFault}

func (k CommandKind) String() string {
	if k < 0 || int(k) >= len(commandKindNames) {
		return fmt.Sprintf("command(%d)", int(k))
	}
	return commandKindNames[k]
}

func (k CommandKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *CommandKind) UnmarshalText(b []byte) error {
	for i, name := range commandKindNames {
		if strings.EqualFold(string(b), name) {
			*k = CommandKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown command %q", string(b))
}

type transition struct {
	next OperationalState
	ok   bool
}

func to(s OperationalState) transition { return transition{next: s, ok: true} }

var reject = transition{}

// transitions[state][command] gives the state after an accepted command.
var transitions = [len(OperationalStates)][len(CommandKinds)]transition{
	Disabled: {
		CmdEnable:       to(EnabledIdle),
		CmdDisable:      reject,
		CmdResetFault:   reject,
		CmdTrackTarget:  reject,
		CmdStopTracking: reject,
		CmdMoveM3:       reject,
		CmdInjectFault:  reject,
	},
	EnabledIdle: {
		CmdEnable:       reject,
		CmdDisable:      to(Disabled),
		CmdResetFault:   reject,
		CmdTrackTarget:  to(EnabledTracking),
		CmdStopTracking: to(EnabledIdle),
		CmdMoveM3:       to(EnabledIdle),
		CmdInjectFault:  to(Fault),
	},
	EnabledTracking: {
		CmdEnable:       reject,
		CmdDisable:      to(Disabled),
		CmdResetFault:   reject,
		CmdTrackTarget:  to(EnabledTracking),
		CmdStopTracking: to(EnabledIdle),
		CmdMoveM3:       to(EnabledTracking),
		CmdInjectFault:  to(Fault),
	},
	Fault: {
		CmdEnable:       reject,
		CmdDisable:      to(Disabled),
		CmdResetFault:   to(EnabledIdle),
		CmdTrackTarget:  reject,
		CmdStopTracking: reject,
		CmdMoveM3:       reject,
		CmdInjectFault:  reject,
	},
}

// Next returns the state reached by accepting cmd in s, or ErrInvalidState.
func Next(s OperationalState, cmd CommandKind) (OperationalState, error) {
	if s < 0 || int(s) >= len(transitions) || cmd < 0 || int(cmd) >= len(CommandKinds) {
		return s, fmt.Errorf("%w: %s in %s", ErrInvalidState, cmd, s)
	}
	tr := transitions[s][cmd]
	if !tr.ok {
		return s, fmt.Errorf("%w: %s not accepted in %s", ErrInvalidState, cmd, s)
	}
	return tr.next, nil
}
