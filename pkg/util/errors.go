package util

import (
	"errors"
	"fmt"
)

// error taxonomy of the storage layer. Callers match with errors.Is;
// concrete errors wrap one of these with path/page context.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrNotFound          = errors.New("not found")
	ErrIllegalState      = errors.New("illegal state")
	ErrNoVictimAvailable = errors.New("no victim available for eviction")
	ErrOutOfRange        = errors.New("out of range")
	ErrNotComparable     = fmt.Errorf("%w: key is not comparable", ErrInvalidArgument)
)
