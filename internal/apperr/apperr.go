// Package apperr defines the client's error taxonomy. Every failure that
// crosses a component boundary carries one of the codes below so callers can
// map it to user-visible state without string matching.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnknown             Code = "UNKNOWN"
	CodeInvalidToken        Code = "INVALID_TOKEN"
	CodeSilentDecodeFailure Code = "SILENT_DECODE_FAILURE"
	CodeNetworkFailure      Code = "NETWORK_FAILURE"
	CodeChannelError        Code = "CHANNEL_ERROR"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeFailedPrecondition  Code = "FAILED_PRECONDITION"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func InvalidToken(cause error) error {
	return Wrap(CodeInvalidToken, "invalid token", cause)
}

func NetworkFailure(op string, cause error) error {
	return Wrap(CodeNetworkFailure, op+" failed", cause)
}

func ChannelError(cause error) error {
	return Wrap(CodeChannelError, "realtime channel error", cause)
}

func Unauthorized(op string) error {
	return New(CodeUnauthorized, op+": unauthorized")
}

func InvalidArg(msg string) error {
	return New(CodeInvalidArgument, msg)
}

func FailedPrecondition(msg string) error {
	return New(CodeFailedPrecondition, msg)
}

// CodeOf returns the code of the first AppError in err's chain, or
// CodeUnknown.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
