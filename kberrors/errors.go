// Package kberrors defines the error taxonomy shared across the knowledge
// base service: a small set of sentinel errors, grouped into classes that
// callers can branch on (HTTP status mapping, retry decisions, pipeline
// stage-failure routing) without parsing error strings.
package kberrors

import (
	"errors"
	"fmt"
)

// Class groups sentinel errors by how a caller should react to them.
type Class string

const (
	ClassValidation    Class = "validation"
	ClassAuthorization Class = "authorization"
	ClassTransient     Class = "transient_backend"
	ClassPermanent     Class = "permanent_backend"
	ClassInvariant     Class = "invariant_violation"
)

// Sentinel errors. Each carries a stable numeric Code for the user-visible
// error taxonomy in the spec (examples: 1001 malformed params, 2001 query
// too long, 3002 unsupported format, 3005 parse failed).
var (
	ErrMalformedParams  = New(1001, ClassValidation, "malformed request parameters")
	ErrQueryTooLong     = New(2001, ClassValidation, "query exceeds maximum length")
	ErrOverlongInput    = New(2002, ClassValidation, "input exceeds model token limit")
	ErrUnsupportedType  = New(3002, ClassValidation, "unsupported document format")
	ErrParseFailed      = New(3005, ClassPermanent, "document parsing failed")
	ErrConvertFailed    = New(3006, ClassPermanent, "document conversion failed")
	ErrMergeFailed      = New(3007, ClassPermanent, "page merge failed")
	ErrChunkFailed      = New(3008, ClassPermanent, "chunking failed")
	ErrSplitFailed      = New(3009, ClassPermanent, "vectorize/index failed")
	ErrDuplicate        = New(4001, ClassValidation, "duplicate identifier")
	ErrConflict         = New(4002, ClassValidation, "document processing already in flight")
	ErrIllegalTransition = New(4003, ClassInvariant, "illegal status transition")
	ErrNotFound         = New(4004, ClassValidation, "record not found")
	ErrNoPermittedDocs  = New(5001, ClassAuthorization, "subject has no permitted documents")
	ErrTransientBackend = New(6001, ClassTransient, "backend temporarily unavailable")
	ErrPermanentBackend = New(6002, ClassPermanent, "backend request failed")
	ErrRateLimited      = New(6003, ClassTransient, "rate limit queue full")
	ErrInvariant        = New(7001, ClassInvariant, "invariant violation detected")
)

// CodedError is the concrete type behind every sentinel above. Wrapping
// preserves Code/Class so errors.Is still matches the sentinel while
// errors.As can recover the original code/class for logging or HTTP
// mapping.
type CodedError struct {
	Code    int
	Class   Class
	Message string
	Err     error // wrapped cause, nil for the sentinel itself
}

func New(code int, class Class, message string) *CodedError {
	return &CodedError{Code: code, Class: class, Message: message}
}

func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrParseFailed) match a wrapped instance that
// carries the same Code, even if Wrap produced a distinct pointer.
func (e *CodedError) Is(target error) bool {
	t, ok := target.(*CodedError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Wrap attaches cause to sentinel, producing a new *CodedError with the
// same Code/Class/Message but a distinct Err so the call site can recover
// the underlying backend error via errors.Unwrap.
func Wrap(sentinel *CodedError, cause error) *CodedError {
	return &CodedError{Code: sentinel.Code, Class: sentinel.Class, Message: sentinel.Message, Err: cause}
}

// ClassOf returns the Class of err if it is (or wraps) a *CodedError, and
// ok=false otherwise.
func ClassOf(err error) (Class, bool) {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return "", false
}
