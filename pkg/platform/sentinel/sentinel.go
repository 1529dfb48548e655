package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers
// return these (optionally wrapped) so services can translate them into domain
// errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: uniqueness or version conflict detected by the store
// - ErrExpired: resource past its expiry timestamp
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrFrozen: writes for the case are paused pending integrity resolution
// - ErrUnavailable: service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrFrozen       = errors.New("case writes frozen")
	ErrUnavailable  = errors.New("unavailable")
)
