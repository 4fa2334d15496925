package mount

import (
	"errors"

	"atmcs-sim/internal/limits"
	"atmcs-sim/internal/m3"
)

var (
	// ErrInvalidState is returned for commands the operational state does
	// not accept.
	ErrInvalidState = errors.New("invalid state")
	// ErrLimitExceeded is returned for targets outside the soft limits.
	ErrLimitExceeded = errors.New("limit exceeded")
	// ErrBusy is returned while the mirror is in transit.
	ErrBusy = m3.ErrBusy
	// ErrInvariant marks internal invariant failures. They always fault
	// the mount.
	ErrInvariant = errors.New("internal invariant failure")
	// ErrInvalidArgument is returned for malformed commands.
	ErrInvalidArgument = errors.New("invalid argument")
)

// LimitError carries the first violation found in a rejected target.
type LimitError struct {
	Violation limits.Violation
}

func (e *LimitError) Error() string {
	return "limit exceeded: " + e.Violation.String()
}

func (e *LimitError) Unwrap() error { return ErrLimitExceeded }
