package errors

import "errors"

// Transport level failures shared by the lock backends and the booking
// stores. Backends map context deadlines onto ErrTimeout so callers can
// tell a slow shared store from a hard failure.
var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
)
