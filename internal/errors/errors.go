package errors

import "errors"

// Credential store errors.
var (
	ErrKeyNotFound  = errors.New("credential not found")
	ErrStoreClosed  = errors.New("credential store is closed")
	ErrSealedValue  = errors.New("cannot open sealed credential value")
	ErrBadKeyLength = errors.New("encryption key must be 32 bytes")
)

// Configuration errors.
var (
	ErrNoRoutes = errors.New("route table is empty")
)
