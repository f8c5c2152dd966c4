package domain

import "errors"

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrPermission   = errors.New("permission denied")
	ErrNotConnected = errors.New("not connected")
	ErrBackend      = errors.New("backend error")
	// ErrConflict rejects a write whose expected document version is stale.
	ErrConflict = errors.New("conflicting update")
)
