package store

import (
	"github.com/aispark/pdmcore/internal/errors"
)

var (
	ErrNotFound               = errors.ErrNotFound
	ErrAlreadyExists          = errors.ErrAlreadyExists
	ErrConcurrentModification = errors.ErrConcurrentModification
	ErrInvalidReference       = errors.ErrInvalidReference
	ErrInvalidTransition      = errors.ErrInvalidTransition
	ErrQuotaExceeded          = errors.ErrQuotaExceeded

	// Entity-specific aliases
	ErrClientNotFound  = errors.ErrClientNotFound
	ErrMachineNotFound = errors.ErrMachineNotFound
	ErrAnomalyNotFound = errors.ErrAnomalyNotFound
	ErrAlertNotFound   = errors.ErrAlertNotFound
	ErrModelNotFound   = errors.ErrModelNotFound
)
