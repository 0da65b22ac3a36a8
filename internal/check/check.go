// Package check provides a small chained-assertion helper for validating
// request and config fields. It is unrelated to source-code validation,
// which lives in internal/codevalidator.
package check

import (
	"errors"
	"fmt"
)

// ErrInvalidInput indicates an input validation check failed.
var ErrInvalidInput = errors.New("invalid input")

// NewErrInvalidInput creates a new error wrapping ErrInvalidInput.
func NewErrInvalidInput(msg string) error {
	return fmt.Errorf("%w; msg: %s", ErrInvalidInput, msg)
}

// New creates a Checker instance.
func New() *Checker {
	return &Checker{}
}

// Checker provides a set of methods to ensure arbitrary conditions are true.
// Once one condition is false, Checker records the failing condition and
// does not evaluate further checks.
type Checker struct {
	err error
}

// AssertFunc checks that fn returns true; if not, msg is used to construct
// an error returned by Checker.Err().
func (c *Checker) AssertFunc(fn func() bool, msg string) {
	if c.err != nil {
		return
	}
	if !fn() {
		c.err = NewErrInvalidInput(msg)
	}
}

// Assert checks that condition is true; if not, msg is used to construct an
// error returned by Checker.Err().
func (c *Checker) Assert(condition bool, msg string) {
	if c.err != nil {
		return
	}
	if !condition {
		c.err = NewErrInvalidInput(msg)
	}
}

// Err returns the error encountered during the Checker's assertions, if any.
func (c Checker) Err() error {
	return c.err
}

// Format provides consistent invalid input messaging.
func Format(msg string) string {
	return fmt.Sprintf("invalid input; %s", msg)
}
