package diagnosis

import "errors"

var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("diagnosis not found")
	ErrInvalidTransition      = errors.New("operation not allowed in current status")
	ErrConcurrentModification = errors.New("diagnosis was modified concurrently")
	ErrUnknownTest            = errors.New("unknown required test")
	ErrAlreadyConfirmed       = errors.New("doctor selection already confirmed")
)
