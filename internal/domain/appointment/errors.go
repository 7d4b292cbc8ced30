package appointment

import "errors"

var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("appointment not found")
	ErrInvalidTransition      = errors.New("operation not allowed in current status")
	ErrSlotUnavailable        = errors.New("slot unavailable")
	ErrConcurrentModification = errors.New("appointment was modified concurrently")
)
