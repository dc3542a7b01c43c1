package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrPriceUnavailable  = errors.New("price unavailable")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrStore             = errors.New("store failure")
	ErrLockHeld          = errors.New("lock already held")
	ErrUnauthorized      = errors.New("unauthorized")
)

// Invalidf returns an error wrapping ErrValidation with a formatted reason.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// StoreErr tags a persistence failure with ErrStore while keeping the
// driver error in the chain.
func StoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}
