package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about stored records, not validation
// failures:
// - ErrNotFound: entity does not exist in the store
// - ErrConflict: conditional write lost a version race or hit a uniqueness
//   constraint (e.g. one non-terminal transfer per parcel)
// - ErrDuplicate: idempotency key already recorded (disputeID, voterID)
// - ErrInvalidState: entity in wrong state for the requested write
// - ErrExpired: entity deadline already passed
//
// For validation errors (bad input, missing fields), use pkg/domain-errors
// directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrDuplicate    = errors.New("duplicate")
	ErrInvalidState = errors.New("invalid state")
	ErrExpired      = errors.New("expired")
)
