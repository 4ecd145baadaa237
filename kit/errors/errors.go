package errors

import (
	"fmt"
	"strings"
)

// Error categories. Automated handlers dispatch on the category; Msg is for
// the operator reading logs.
const (
	EInternal         = "internal error"
	ENotFound         = "not found"
	EQuerySyntax      = "query syntax"      // the parser cannot accept the text
	EQueryExecution   = "query execution"   // well-formed query fails at plan/execute time
	ESchema           = "schema"            // ambiguous field, invalid name, type conflict
	EValidate         = "validate"          // value does not conform to the field type
	EStorage          = "storage"           // KV I/O failure, corruption, lock contention
	EGeneratorCorrupt = "generator corrupt" // EVID backing file is damaged
	ECancelled        = "cancelled"         // task cancelled or timed out
	EUnauthorized     = "unauthorized"
)

// Fault codes used on the RPC surface.
const (
	FaultInternal      = 1001
	FaultBadRequest    = 1002
	FaultNotAuthorized = 1003
)

// Error is the platform error carried across package boundaries.
//
// Code targets automated recovery, Msg targets the operator, and Op/Err chain
// errors into a logical stack trace.
//
//	&Error{Code: EQuerySyntax, Msg: "unexpected token", Op: "query.Parse"}
type Error struct {
	Code string
	Msg  string
	Op   string
	Err  error
}

// Error implements the error interface by writing out the recursive messages.
func (e *Error) Error() string {
	if e.Msg != "" && e.Err != nil {
		var b strings.Builder
		b.WriteString(e.Msg)
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
		return b.String()
	} else if e.Msg != "" {
		return e.Msg
	} else if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("<%s>", e.Code)
}

// Unwrap exposes the wrapped error to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Err }

// New returns an error with a category and a formatted message.
func New(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a category and operation.
func Wrap(err error, code, op string) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// ErrorCode returns the category of the root error, if available; otherwise
// EInternal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	e, ok := err.(*Error)
	if !ok {
		return EInternal
	}
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Err != nil {
		return ErrorCode(e.Err)
	}
	return EInternal
}

// ErrorOp returns the op of the error, if available.
func ErrorOp(err error) string {
	e, ok := err.(*Error)
	if !ok || e == nil {
		return ""
	}
	if e.Op != "" {
		return e.Op
	}
	if e.Err != nil {
		return ErrorOp(e.Err)
	}
	return ""
}

// ErrorMessage returns the human-readable message of the error, if available.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	e, ok := err.(*Error)
	if !ok {
		return "An internal error has occurred."
	}
	if e == nil {
		return ""
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return ErrorMessage(e.Err)
	}
	return "An internal error has occurred."
}

// FaultCode maps an error category onto the RPC fault code.
func FaultCode(err error) int {
	switch ErrorCode(err) {
	case EQuerySyntax, EQueryExecution, EValidate, ESchema, ENotFound:
		return FaultBadRequest
	case EUnauthorized:
		return FaultNotAuthorized
	default:
		return FaultInternal
	}
}
