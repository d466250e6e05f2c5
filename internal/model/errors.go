package model

import "errors"

// Error taxonomy shared by stores and services. Wrap with fmt.Errorf("%w")
// and test with errors.Is.
var (
	// ErrValidation marks malformed input. Nothing was mutated.
	ErrValidation = errors.New("validation error")
	// ErrSignatureMismatch marks an inbound event whose signature does not verify.
	ErrSignatureMismatch = errors.New("signature mismatch")
	// ErrNotFound marks an unknown order, rule, user or transaction.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEvent marks an idempotency key that was already recorded.
	// Callers treat it as success.
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrIntegrity marks a broken invariant such as a sponsor cycle.
	ErrIntegrity = errors.New("integrity error")
	// ErrGateway marks an upstream payment provider failure.
	ErrGateway = errors.New("gateway error")
)
