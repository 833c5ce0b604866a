package scheduler

import "errors"

var (
	// ErrInvalidDistribution marks a quantile triple that is not finite or not monotonic.
	ErrInvalidDistribution = errors.New("scheduler: invalid quantile distribution")
	// ErrInvalidPatient marks a patient record that fails validation.
	ErrInvalidPatient = errors.New("scheduler: invalid patient")
	// ErrDuplicatePatient marks a patient id present more than once in a state.
	ErrDuplicatePatient = errors.New("scheduler: duplicate patient")
	// ErrUnknownPatient marks an event that references a patient not in the active state.
	ErrUnknownPatient = errors.New("scheduler: unknown patient")
	// ErrInvalidEvent marks a malformed event.
	ErrInvalidEvent = errors.New("scheduler: invalid event")
	// ErrInvalidParams marks out-of-range scheduler parameters.
	ErrInvalidParams = errors.New("scheduler: invalid params")
	// ErrLockViolation is returned when a plan would move a locked or capped patient.
	// Seeing it means an optimizer bug, not bad input.
	ErrLockViolation = errors.New("scheduler: lock violation")
)
