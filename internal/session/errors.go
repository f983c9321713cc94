package session

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingArgument is returned before any engine call when a required
	// argument is empty.
	ErrMissingArgument = errors.New("missing argument")
	// ErrElementNotFound is returned when a selector resolves to nothing.
	ErrElementNotFound = errors.New("element not found")
	// ErrTextNotFound is returned by FindText when the element exists but
	// does not contain the text.
	ErrTextNotFound = errors.New("text not found")
	// ErrCannotSelect is returned by Select when the target is missing.
	ErrCannotSelect = errors.New("cant select")
	// ErrURLMismatch is returned by WaitForURL when the page navigated
	// somewhere else.
	ErrURLMismatch = errors.New("waitForUrl NOT matched")
	// ErrAlreadyClosed is returned when operating on a closed session.
	ErrAlreadyClosed = errors.New("browser already closed")
	// ErrInitFailed wraps the cause of a failed engine start.
	ErrInitFailed = errors.New("browser isn't ready")
	// ErrSessionNotFound is returned by Manager lookups.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned by Manager.Create for a taken id.
	ErrSessionExists = errors.New("session already exists")
	// ErrTooManySessions is returned by Manager.Create at the session limit.
	ErrTooManySessions = errors.New("too many sessions")
)

func missing(op, name string) error {
	return fmt.Errorf("browser.%s: %w: %s", op, ErrMissingArgument, name)
}

func notFound(op, selector string) error {
	return fmt.Errorf("browser.%s: %w: %s", op, ErrElementNotFound, selector)
}
