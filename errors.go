package strand

import "errors"

var (
	// Engine-raised errors. These enter the normal propagation path and
	// are catchable by an enclosing handler frame.
	ErrUnhandledCase  = errors.New("strand: no case matches dispatched value")
	ErrNotAwaitable   = errors.New("strand: value does not implement Awaitable")
	ErrStepOutOfRange = errors.New("strand: step id out of range")

	// Dataflow errors.
	ErrAlreadyBound = errors.New("strand: dataflow variable already bound")
	ErrNotBindable  = errors.New("strand: target is not a dataflow variable or compound")

	// Lifecycle errors.
	ErrNoActiveHandler = errors.New("strand: retry with no active handler")

	// Registry errors.
	ErrProgramNotFound = errors.New("strand: program not found")
)
