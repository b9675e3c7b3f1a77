// Package common defines sentinel errors and small helpers shared by the
// pairchat server, storage and watchdog packages. Callers should use errors.Is
// to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound    = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrUnavailable    = errors.New("service unavailable")

	// Validation / protocol errors.
	ErrValidation  = errors.New("validation error")
	ErrUnknownType = errors.New("unknown message type")

	// Room-specific errors.
	ErrRoomFull      = errors.New("room is full")
	ErrNotRoomMember = errors.New("not a room member")

	// Auth errors (invalid, malformed or expired token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
