package versionstore

import "errors"

// Typed errors every Client method maps HTTP status codes onto.
var (
	ErrNotFound           = errors.New("versionstore: not found")
	ErrConflict           = errors.New("versionstore: conflict")
	ErrPreconditionFailed = errors.New("versionstore: precondition failed")
	ErrRefNotFound        = errors.New("versionstore: ref not found")
	ErrTransient          = errors.New("versionstore: transient upstream failure")
)
