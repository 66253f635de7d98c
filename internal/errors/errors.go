// Package errors provides the voice loop's error taxonomy.
// Every failure that can reach the coordinator is an AppError carrying a Kind.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindTranscription
	KindStream
	KindSynthesis
	KindHardware
	KindCancellation
	KindInvalidInput
	KindUnavailable
	KindConfig
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnknown:       "UNKNOWN",
	KindTranscription: "TRANSCRIPTION_FAILURE",
	KindStream:        "STREAM_FAILURE",
	KindSynthesis:     "SYNTHESIS_FAILURE",
	KindHardware:      "HARDWARE_FAILURE",
	KindCancellation:  "CANCELLATION_UNWIND",
	KindInvalidInput:  "INVALID_INPUT",
	KindUnavailable:   "UNAVAILABLE",
	KindConfig:        "CONFIG_INVALID",
	KindInternal:      "INTERNAL",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

// grpcCodeMap maps kinds to gRPC status codes.
var grpcCodeMap = map[Kind]codes.Code{
	KindUnknown:       codes.Unknown,
	KindTranscription: codes.Internal,
	KindStream:        codes.Internal,
	KindSynthesis:     codes.Internal,
	KindHardware:      codes.FailedPrecondition,
	KindCancellation:  codes.Canceled,
	KindInvalidInput:  codes.InvalidArgument,
	KindUnavailable:   codes.Unavailable,
	KindConfig:        codes.FailedPrecondition,
	KindInternal:      codes.Internal,
}

// AppError is the base error type with a kind and metadata.
type AppError struct {
	Kind     Kind
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Kind]; ok {
		return c
	}
	return codes.Unknown
}

// GRPCStatus lets status.FromError recognise an AppError.
func (e *AppError) GRPCStatus() *status.Status {
	return status.New(e.GRPCCode(), e.Message)
}

// New creates a new AppError with the given kind and message.
func New(kind Kind, msg string) *AppError {
	return &AppError{Kind: kind, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(kind Kind, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
// Context cancellation always wraps as KindCancellation.
func Wrap(err error, kind Kind, msg string) *AppError {
	if stderrors.Is(err, context.Canceled) {
		kind = KindCancellation
	}
	return &AppError{Kind: kind, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) *AppError {
	return Wrap(err, kind, fmt.Sprintf(format, args...))
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// KindOf returns the kind of the outermost AppError in err's chain.
func KindOf(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	if stderrors.Is(err, context.Canceled) {
		return KindCancellation
	}
	return KindUnknown
}

// IsKind checks if an error carries a specific kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsCancellation reports whether err is a cancellation unwind rather than a failure.
func IsCancellation(err error) bool {
	return IsKind(err, KindCancellation) || stderrors.Is(err, context.Canceled)
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	switch appErr.Kind {
	case KindUnavailable:
		return true
	default:
		return false
	}
}

// UserMessage returns the text shown in the last-error slot.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if appErr.Message != "" {
			return appErr.Message
		}
		return appErr.Kind.String()
	}
	return err.Error()
}
