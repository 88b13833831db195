package types

import (
	"fmt"
	"strings"
)

// Error tag constants for evaluation failures.
const (
	TagTypeError         = "TypeError"
	TagZeroDivisionError = "ZeroDivisionError"
	TagRecursionError    = "RecursionError"
	TagAssertionError    = "AssertionError"
	TagResourceLimit     = "ResourceLimitError"
)

// EvalError is a hard evaluation failure carrying a message and one or more tags.
type EvalError struct {
	Message string
	Tags    []string
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	return fmt.Sprintf("%s (tags=[%s])", e.Message, strings.Join(e.Tags, ", "))
}

// HasTag returns true if the error has the specified tag.
func (e *EvalError) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// NewTypeError creates a TypeError.
func NewTypeError(msg string) *EvalError {
	return &EvalError{Message: msg, Tags: []string{TagTypeError}}
}

// NewZeroDivisionError creates a ZeroDivisionError.
func NewZeroDivisionError() *EvalError {
	return &EvalError{Message: "division by zero", Tags: []string{TagZeroDivisionError}}
}

// NewRecursionError creates a RecursionError for an evaluation nested deeper than max.
func NewRecursionError(max int) *EvalError {
	return &EvalError{
		Message: fmt.Sprintf("evaluation depth limit exceeded (max %d)", max),
		Tags:    []string{TagRecursionError, TagResourceLimit},
	}
}

// NewAssertionError creates an AssertionError.
func NewAssertionError(msg string) *EvalError {
	return &EvalError{Message: msg, Tags: []string{TagAssertionError}}
}

// InternalError signals a broken invariant inside the evaluator, such as a
// node whose child count disagrees with its registry arity. It is raised with
// panic, never returned.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string {
	return "internal error: " + e.Message
}

// Internalf panics with an InternalError built from a format string.
func Internalf(format string, args ...any) {
	panic(&InternalError{Message: fmt.Sprintf(format, args...)})
}
