package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrLockHeld           = errors.New("lock already held")
	ErrInvalidCursor      = errors.New("invalid cursor")
	ErrStaleCursor        = errors.New("stale cursor")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInvalidGame        = errors.New("invalid game")
	ErrInvalidAction      = errors.New("invalid action")
	ErrInvalidParams      = errors.New("invalid params")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrDuplicateRequest   = errors.New("duplicate request")
	ErrWSDisconnect       = errors.New("websocket disconnected")
)
