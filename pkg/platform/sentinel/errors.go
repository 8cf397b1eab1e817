package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into coded domain errors.
//
// These represent factual states about stored resources, not validation
// failures:
//   - ErrNotFound: entity does not exist in the store
//   - ErrConflict: uniqueness or duplication constraint hit
//   - ErrInvalidState: entity in the wrong state for the requested operation
//   - ErrLocked: row lock could not be acquired without waiting
//   - ErrUnavailable: backing service temporarily unreachable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrLocked       = errors.New("locked")
	ErrUnavailable  = errors.New("unavailable")
)
