package config

import (
	"errors"
	"fmt"
)

// Code classifies a configuration error
type Code string

const (
	CodeItemize       Code = "E_ITEMIZE"       // malformed mnemonic#count shorthand
	CodeNoPlaceholder Code = "E_NOPLACEHOLDER" // rotation requested without '@'
	CodeRange         Code = "E_RANGE"         // register count out of range
	CodeReserved      Code = "E_RESERVED"      // write to a reserved control register
	CodeLabel         Code = "E_LABEL"         // unsupported label prefix
	CodeMode          Code = "E_MODE"          // unknown or misused topology mode
	CodeModeArgs      Code = "E_MODEARGS"      // malformed mode arguments
	CodeValue         Code = "E_VALUE"         // numeric parameter out of bounds
	CodeReference     Code = "E_REFERENCE"     // unknown citation id
)

// Error is a user-facing configuration error.
// Match with errors.Is against the Err* sentinels.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is reports whether target is a sentinel with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Msg == "" || t.Msg == e.Msg)
}

var (
	ErrItemize       = &Error{Code: CodeItemize}
	ErrNoPlaceholder = &Error{Code: CodeNoPlaceholder}
	ErrRange         = &Error{Code: CodeRange}
	ErrReserved      = &Error{Code: CodeReserved}
	ErrLabel         = &Error{Code: CodeLabel}
	ErrMode          = &Error{Code: CodeMode}
	ErrModeArgs      = &Error{Code: CodeModeArgs}
	ErrValue         = &Error{Code: CodeValue}
	ErrReference     = &Error{Code: CodeReference}
)

// Errorf builds an *Error with a formatted message
func Errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// IOError reports a missing or unreadable input file
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsIOError reports whether err came from reading an input file
func IsIOError(err error) bool {
	var ioErr *IOError
	return errors.As(err, &ioErr)
}
