package session

import (
	"errors"
	"fmt"
)

var (
	// ErrBrowserLaunch wraps failures to start the browser engine.
	ErrBrowserLaunch = errors.New("browser launch failed")
	// ErrSessionClosed is returned when the browser was stopped while a
	// sign-in was in progress.
	ErrSessionClosed = errors.New("session closed during sign-in")
)

// AuthenticationError reports that signing in to the upstream application failed.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// UnexpectedLocationError reports that the session landed somewhere other
// than the dashboard or workspace after signing in.
type UnexpectedLocationError struct {
	Location string
}

func (e *UnexpectedLocationError) Error() string {
	return fmt.Sprintf("unexpected location after sign-in: %s", e.Location)
}

// TimeoutError reports that a navigation or in-page call exceeded its bound.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }
