// Package apperr holds the error kinds surfaced by the dispatch core.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrOfferExpired      = errors.New("offer expired")
	ErrAlreadyResolved   = errors.New("offer already resolved")
	ErrUnauthorizedActor = errors.New("actor not allowed on this resource")
	ErrNoEligibleDrivers = errors.New("no eligible drivers")
	ErrBadRequest        = errors.New("bad request")
	ErrConflict          = errors.New("state conflict")
	ErrDriverUnavailable = errors.New("driver cannot take another delivery")
)

// TransitionError reports a transition outside a state machine's allow-list.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot transition from %q to %q", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func Transition(entity, from, to string) error {
	return &TransitionError{Entity: entity, From: from, To: to}
}
