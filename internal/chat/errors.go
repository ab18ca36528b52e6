package chat

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	ErrNetworkUnavailable = errors.New("message backend is unreachable")
	ErrSchemaMissing      = errors.New("message storage is not provisioned")
	ErrSessionUnavailable = errors.New("inference session unavailable")
	ErrStaleBootstrap     = errors.New("bootstrap superseded by a newer identity")

	ErrEmptyMessage       = errors.New("message is empty")
	ErrBusy               = errors.New("a reply is already in progress")
	ErrNoSession          = errors.New("no inference session")
	ErrAttachmentTooLarge = errors.New("attachment too large")
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// ErrorKind is the structured category a backend adapter assigns to a failure.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindTransport
	KindSchema
	KindAuth
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindSchema:
		return "schema"
	case KindAuth:
		return "auth"
	default:
		return "other"
	}
}

// BackendError wraps a driver error with its kind.
type BackendError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// KindOf reports the kind of a backend failure; unclassified errors are KindOther.
func KindOf(err error) ErrorKind {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindOther
}

// IsTransportError reports network-level failures shared by every driver.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	switch {
	case errors.As(err, &netErr):
		return true
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
