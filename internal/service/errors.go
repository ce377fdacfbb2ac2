// Package service implements pass updates, wallet delivery fan-out,
// scanner redemption, bulk updates and the scan audit log on top of the
// repository layer.
package service

import (
	"errors"

	"github.com/iliyamo/wallet-pass-engine/internal/repository"
)

// Kind classifies service errors. Handlers map kinds to HTTP status codes.
type Kind int

const (
	KindValidation   Kind = iota + 1 // 422
	KindUnauthorized                 // 401
	KindForbidden                    // 403
	KindConflict                     // 409
	KindNotFound                     // 404
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "state conflict"
	case KindNotFound:
		return "not found"
	}
	return "unknown"
}

// Error is an expected, user-visible failure.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Message
}

// Is matches the kind sentinels below, so errors.Is(err, ErrConflict)
// holds for every conflict regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrNotFound     = &Error{Kind: KindNotFound}
)

func validationError(msg string) error { return &Error{Kind: KindValidation, Message: msg} }
func conflictError(msg string) error   { return &Error{Kind: KindConflict, Message: msg} }
func notFoundError(msg string) error   { return &Error{Kind: KindNotFound, Message: msg} }
func forbiddenError(msg string) error  { return &Error{Kind: KindForbidden, Message: msg} }
func unauthorizedError(msg string) error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

// translate maps repository sentinels onto service kinds and leaves other
// errors untouched.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return notFoundError(what + " not found")
	case errors.Is(err, repository.ErrForbidden):
		return forbiddenError("forbidden")
	}
	return err
}

// KindOf returns the kind of err, or zero for internal errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
