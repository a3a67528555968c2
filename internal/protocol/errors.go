package protocol

import (
	"errors"
	"fmt"
)

// Code names a failure class that crosses context boundaries.
type Code string

const (
	CodeNotFound              Code = "NotFound"
	CodeTimeout               Code = "Timeout"
	CodeInvalidChunkState     Code = "InvalidChunkState"
	CodeEmptyOrInvalidPayload Code = "EmptyOrInvalidPayload"
	CodeStorageUnavailable    Code = "StorageUnavailable"
	CodeInjectionFailure      Code = "InjectionFailure"
	CodeNoTargetTab           Code = "NoTargetTab"
	CodeContentNotFound       Code = "ContentNotFound"
	CodeOutOfRange            Code = "OutOfRange"
	CodeIncomplete            Code = "Incomplete"
	CodeMalformedResponse     Code = "MalformedResponse"
	CodeUnknown               Code = "Unknown"
)

// Error is a coded protocol error. Two errors match under errors.Is when
// their codes are equal, so callers compare against the sentinels below.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNotFound              = &Error{Code: CodeNotFound}
	ErrTimeout               = &Error{Code: CodeTimeout}
	ErrInvalidChunkState     = &Error{Code: CodeInvalidChunkState}
	ErrEmptyOrInvalidPayload = &Error{Code: CodeEmptyOrInvalidPayload}
	ErrStorageUnavailable    = &Error{Code: CodeStorageUnavailable}
	ErrInjectionFailure      = &Error{Code: CodeInjectionFailure}
	ErrNoTargetTab           = &Error{Code: CodeNoTargetTab}
	ErrContentNotFound       = &Error{Code: CodeContentNotFound}
	ErrOutOfRange            = &Error{Code: CodeOutOfRange}
	ErrIncomplete            = &Error{Code: CodeIncomplete}
	ErrMalformedResponse     = &Error{Code: CodeMalformedResponse}
)

// Errorf builds a coded error with a formatted message. A trailing %w verb
// in format is honoured for wrapping.
func Errorf(code Code, format string, args ...any) error {
	wrapped := fmt.Errorf(format, args...)
	e := &Error{Code: code, Msg: wrapped.Error()}
	if inner := errors.Unwrap(wrapped); inner != nil {
		e.Msg = trimWrapped(e.Msg, inner.Error())
		e.Err = inner
	}
	return e
}

// Wrap attaches a code to err. A nil err stays nil.
func Wrap(code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Err: err}
}

// CodeOf returns the code of the first coded error in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeUnknown
}

func trimWrapped(msg, inner string) string {
	suffix := ": " + inner
	if len(msg) >= len(suffix) && msg[len(msg)-len(suffix):] == suffix {
		return msg[:len(msg)-len(suffix)]
	}
	return msg
}
