package panel

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by lookup calls when the panel answered
// successfully but no object matched. Transport failures surface as
// *RequestError instead, so callers can tell "absent" from "unreachable".
var ErrNotFound = errors.New("panel: object not found")

// AuthLockedError is returned without any network call while a server's
// login lockout window is active.
type AuthLockedError struct {
	ServerID uint
	Until    time.Time
}

func (e *AuthLockedError) Error() string {
	return fmt.Sprintf("panel: server %d login locked until %s", e.ServerID, e.Until.Format(time.RFC3339))
}

// AuthFailedError is returned when the panel rejected the credentials or the
// login endpoint could not be reached. Each occurrence counts toward the
// lockout threshold.
type AuthFailedError struct {
	ServerID uint
	Msg      string
	Err      error
}

func (e *AuthFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("panel: server %d login failed: %s: %v", e.ServerID, e.Msg, e.Err)
	}
	return fmt.Sprintf("panel: server %d login failed: %s", e.ServerID, e.Msg)
}

func (e *AuthFailedError) Unwrap() error {
	return e.Err
}

// RequestError is returned when a data call exhausted its attempts. It
// carries the last underlying failure.
type RequestError struct {
	ServerID uint
	Op       string
	Attempts int
	Err      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("panel: server %d %s failed after %d attempts: %v", e.ServerID, e.Op, e.Attempts, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
