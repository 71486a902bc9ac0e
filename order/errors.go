package order

import "errors"

var (
	ErrUnknownOrder      = errors.New("unknown order")
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrInvalidTransition = errors.New("illegal state transition")
	ErrTerminalOrder     = errors.New("order is in a terminal state")
	ErrInvalidFill       = errors.New("fill volume must be positive")
	ErrOverfill          = errors.New("fill exceeds order volume")
)
