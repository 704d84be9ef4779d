package domain

import "errors"

var (
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	// ErrPersistence marks a durable store failure. It is the only class the
	// notification service retries.
	ErrPersistence = errors.New("persistence error")
	// ErrTransport marks a delivery channel failure. It never escapes the
	// notification service.
	ErrTransport = errors.New("transport error")
)
