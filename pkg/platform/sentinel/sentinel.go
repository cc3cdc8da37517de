package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record, worksheet or row does not exist
// - ErrConflict: a unique document number is already taken
// - ErrInvalidState: component used outside its lifecycle
// - ErrUnavailable: backend temporarily unavailable
// - ErrAlignment: row and header layout disagree after a retry
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrAlignment    = errors.New("row does not align with header")
)
