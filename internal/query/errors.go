package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/duckmesh/querygrid/internal/grid"
	"github.com/duckmesh/querygrid/internal/scroll"
)

var (
	ErrUnknownConnection  = errors.New("unknown connection")
	ErrFilesUnsupported   = errors.New("connection does not list files")
	ErrStorageUnsupported = errors.New("connection does not describe storage")
)

type Class string

const (
	ClassTransport          Class = "transport"
	ClassBackendQuery       Class = "backend_query"
	ClassShapeViolation     Class = "shape_violation"
	ClassResourceExhaustion Class = "resource_exhaustion"
)

// Error is a classified query failure. Message keeps the backend's own
// wording when the backend supplied one.
type Error struct {
	Class   Class
	Backend string
	Message string
	Err     error
}

func (e *Error) Error() string {
	message := e.Message
	if message == "" && e.Err != nil {
		message = e.Err.Error()
	}
	if e.Backend == "" {
		return fmt.Sprintf("%s: %s", e.Class, message)
	}
	return fmt.Sprintf("%s %s: %s", e.Backend, e.Class, message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func TransportError(backend string, err error) *Error {
	return &Error{Class: ClassTransport, Backend: backend, Err: err}
}

func BackendQueryError(backend, message string, err error) *Error {
	if message == "" && err != nil {
		message = err.Error()
	}
	return &Error{Class: ClassBackendQuery, Backend: backend, Message: message, Err: err}
}

func ShapeError(backend string, err error) *Error {
	return &Error{Class: ClassShapeViolation, Backend: backend, Err: err}
}

func ResourceError(backend string, err error) *Error {
	return &Error{Class: ClassResourceExhaustion, Backend: backend, Err: err}
}

// ClassOf reports the class of err, or "" when err carries none.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Class
	}
	switch {
	case errors.Is(err, grid.ErrShape):
		return ClassShapeViolation
	case errors.Is(err, scroll.ErrResourceExhausted):
		return ClassResourceExhaustion
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ClassTransport
	}
	return ""
}

// classify makes sure err carries a class. Errors the adapter left
// unclassified are reported as transport failures.
func classify(backend string, err error) error {
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	switch ClassOf(err) {
	case ClassShapeViolation:
		return ShapeError(backend, err)
	case ClassResourceExhaustion:
		return ResourceError(backend, err)
	default:
		return TransportError(backend, err)
	}
}
