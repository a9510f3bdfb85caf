package types

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrInsufficientData    = errors.New("insufficient data")
	ErrDuplicatePosition   = errors.New("position already open for instrument and direction")
	ErrOppositePosition    = errors.New("opposite position open on a one-way venue")
	ErrBelowMinNotional    = errors.New("order notional below exchange minimum")
	ErrDailyLossLimit      = errors.New("daily loss limit reached")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPositionNotFound    = errors.New("position not found")
	ErrPositionBusy        = errors.New("position is not open")
	ErrUnknownInstrument   = errors.New("unknown instrument")
	ErrTransient           = errors.New("transient exchange error")
)

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err is a timeout, rate limit or network failure
// that a loop should back off from and retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// IsRejection reports whether err is a risk rejection rather than a failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrDuplicatePosition) ||
		errors.Is(err, ErrOppositePosition) ||
		errors.Is(err, ErrBelowMinNotional) ||
		errors.Is(err, ErrDailyLossLimit) ||
		errors.Is(err, ErrInsufficientBalance)
}
