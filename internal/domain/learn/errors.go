package learn

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies engine failures so the HTTP layer can map them without string matching.
type ErrorCode string

const (
	CodeNotFound            ErrorCode = "not_found"
	CodeValidation          ErrorCode = "validation"
	CodeStaleInput          ErrorCode = "stale_input"
	CodeUnregisteredHandler ErrorCode = "unregistered_handler"
	CodeMalformedBlock      ErrorCode = "malformed_block"
	CodeInvalidStruct       ErrorCode = "invalid_struct"
	CodeGotoCycle           ErrorCode = "goto_cycle"
	CodeBusy                ErrorCode = "busy"
	CodeConflict            ErrorCode = "conflict"
	CodeUpstream            ErrorCode = "upstream"
	CodeInternal            ErrorCode = "internal"
)

type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(code ErrorCode, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// Wrap annotates err with code unless it already carries one.
func Wrap(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return NewError(code, op, err.Error(), err)
}

func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

func CodeOf(err error) ErrorCode {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Code
}

// IsConfigError reports codes caused by bad course data rather than the request.
func IsConfigError(err error) bool {
	switch CodeOf(err) {
	case CodeUnregisteredHandler, CodeMalformedBlock, CodeInvalidStruct, CodeGotoCycle:
		return true
	default:
		return false
	}
}
