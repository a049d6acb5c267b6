package errval

import (
	"errors"
)

var (
	ErrInternal     = errors.New("internal error")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrInvalidState = errors.New("invalid state for operation")
)
