// Package engine holds the error taxonomy shared by the payment plan
// lifecycle components. Callers branch on the sentinels with errors.Is;
// wrapped messages carry the entity and id.
package engine

import "errors"

var (
	// ErrValidation marks input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an unknown plan, payment, clinic, or collection id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState marks a transition requested from the wrong status.
	// Callers should log it as a race or programming error, not retry.
	ErrInvalidState = errors.New("invalid state")
)
