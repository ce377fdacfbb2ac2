// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// services and handlers to distinguish between different failure
// scenarios. For example, ErrForbidden indicates that the current user
// is not authorized to operate on a pass owned by another tenant, while
// ErrConflict signals that an operation cannot proceed because of the
// current state of a record.
package repository

import "errors"

// ErrNotFound is returned when no row matches the requested identity
// within the given scope.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own. Handlers should translate this
// into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a write cannot be performed because of
// conflicting state, such as a concurrent change of the row being
// written. Handlers should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")
