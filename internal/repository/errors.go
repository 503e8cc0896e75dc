// Package repository implements the raw-SQL data access layer.  This
// file defines sentinel error values reused across repositories so
// higher layers can distinguish failure scenarios with errors.Is.
package repository

import "errors"

// ErrNotFound is returned when a lookup matches no row.  Handlers
// translate it into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own.  Handlers translate this into 403.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an operation cannot proceed because of
// conflicting state, such as recording a coupon usage that would
// exceed the coupon's limit or marking an already-used ticket used.
// Handlers translate this into 409.
var ErrConflict = errors.New("conflict")
