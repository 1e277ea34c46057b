// Package common provides small error helpers shared across the application.
package common

import (
	"errors"
	"fmt"
)

// NewErrorf returns an error built from a format string.
func NewErrorf(format string, a ...any) error {
	return fmt.Errorf(format, a...)
}

// NewError returns an error built by joining the arguments with spaces.
func NewError(a ...any) error {
	return errors.New(fmt.Sprintln(a...))
}

// Combine merges multiple errors into one, skipping nils. Returns nil when
// every argument is nil.
func Combine(errs ...error) error {
	var msg string
	for _, err := range errs {
		if err != nil {
			if msg != "" {
				msg += " , "
			}
			msg += err.Error()
		}
	}
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}
