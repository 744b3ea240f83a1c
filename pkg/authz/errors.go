package authz

import (
	"errors"
	"fmt"
)

// Kind classifies an authorization backend failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound means the referenced role or assignment does not exist.
	KindNotFound
	// KindConflict means the mutation collided with existing state.
	KindConflict
	// KindUnavailable means the backend could not be reached or answered
	// with a server error.
	KindUnavailable
)

// Error is a classified authorization backend error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a KindNotFound authorization error.
func IsNotFound(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == KindNotFound
}

// IsUnavailable reports whether err is a KindUnavailable authorization error.
func IsUnavailable(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == KindUnavailable
}

func notFound(op string, err error) *Error {
	return &Error{Kind: KindNotFound, Op: op, Err: err}
}

func unavailable(op string, err error) *Error {
	return &Error{Kind: KindUnavailable, Op: op, Err: err}
}
