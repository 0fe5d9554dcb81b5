// Package ierr implements the error taxonomy from spec.md §7: every error
// a handler can return is one of a small set of kinds, each with a stable
// numeric wire status code. Handlers return a *Error; the dispatcher is
// the only place that ever looks at the numeric Code.
package ierr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the error taxonomy buckets from spec.md §7.
type Kind uint8

const (
	KindProtocol Kind = iota + 1
	KindUnauthenticated
	KindUnauthorized
	KindNotFound
	KindConflict
	KindValidation
	KindState
	KindIO
	KindResource
)

// Error is the typed error every CORE operation returns. Code is the wire
// status written by the dispatcher in the response header; it is never 0
// (0 means success and is never produced by this package).
type Error struct {
	Kind    Kind
	Code    uint32
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap lets errors.Is/errors.As see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// Wire status codes. Numeric and stable, grouped by kind in blocks of 100
// so a new error within a kind never collides with another kind's block.
const (
	CodeOK = 0

	CodeMalformedFrame    = 100
	CodeUnknownCommand    = 101
	CodeOversizedPayload  = 102
	CodeUnauthenticated   = 200
	CodeInvalidCredentials = 201
	CodeUnauthorized      = 202

	CodeStreamNotFound        = 300
	CodeTopicNotFound         = 301
	CodePartitionNotFound     = 302
	CodeSegmentNotFound       = 303
	CodeConsumerGroupNotFound = 304
	CodeUserNotFound          = 305
	CodePATNotFound           = 306

	CodeStreamExists    = 400
	CodeTopicExists     = 401
	CodeNameTaken       = 402
	CodeUserExists      = 403
	CodeGroupExists     = 404

	CodeInvalidName       = 500
	CodeInvalidIdentifier = 501
	CodeInvalidExpiry     = 502
	CodeInvalidPartitions = 503
	CodeInvalidPayload    = 504

	CodeOffsetOutOfRange     = 600
	CodeSegmentClosed        = 601
	CodePartitionEmpty       = 602
	CodePartitionUnavailable = 603
	CodeGroupNotJoined       = 604

	CodePersisterFailed = 700
	CodeDiskFull         = 701
	CodeCorruptFile      = 702

	CodeTooManyPartitions  = 800
	CodeTopicSizeExceeded  = 801
)

func mk(kind Kind, code uint32, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Wrap attaches a Kind/Code to an underlying cause, preserving it via
// errors.Wrap (github.com/pkg/errors) so the call-site stack survives
// across the persister/segment IO boundary.
func Wrap(kind Kind, code uint32, msg string, cause error) *Error {
	e := mk(kind, code, msg)
	e.cause = errors.Wrap(cause, msg)
	return e
}

func Protocol(code uint32, msg string) *Error      { return mk(KindProtocol, code, msg) }
func Unauthenticated() *Error                      { return mk(KindUnauthenticated, CodeUnauthenticated, "unauthenticated") }
func InvalidCredentials() *Error                   { return mk(KindUnauthenticated, CodeInvalidCredentials, "invalid credentials") }
func Unauthorized() *Error                         { return mk(KindUnauthorized, CodeUnauthorized, "unauthorized") }
func NotFound(code uint32, msg string) *Error      { return mk(KindNotFound, code, msg) }
func Conflict(code uint32, msg string) *Error      { return mk(KindConflict, code, msg) }
func Validation(msg string) *Error                 { return mk(KindValidation, CodeInvalidPayload, msg) }
func ValidationCode(code uint32, msg string) *Error { return mk(KindValidation, code, msg) }
func State(code uint32, msg string) *Error         { return mk(KindState, code, msg) }
func IO(code uint32, msg string, cause error) *Error {
	return Wrap(KindIO, code, msg, cause)
}
func Resource(code uint32, msg string) *Error { return mk(KindResource, code, msg) }

// CodeOf extracts the wire status code from any error, mapping unknown
// error types to a generic protocol failure so the dispatcher always has
// something non-zero to write.
func CodeOf(err error) uint32 {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeMalformedFrame
}
