package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and the lock manager return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: unique constraint would be violated
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrNotAcquired: lock could not be obtained within the retry budget
// - ErrUnavailable: backing service temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrNotAcquired  = errors.New("lock not acquired")
	ErrUnavailable  = errors.New("unavailable")
)
