// Package errs defines the typed error kinds shared by the bot host.
// Every error carries a code; callers test kinds with errors.Is against the
// exported sentinels.
package errs

import (
	"errors"
	"fmt"
)

// Standard error codes for the application.
const (
	CodeUnknown           = "UNKNOWN"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidCredential = "INVALID_CREDENTIAL"
	CodeHandlerFault      = "HANDLER_FAULT"
	CodeExecutionTimeout  = "EXECUTION_TIMEOUT"
	CodeConnectionFault   = "CONNECTION_FAULT"
	CodeValidation        = "VALIDATION"
	CodeDatabase          = "DATABASE"
	CodeConfig            = "CONFIG"
)

// Sentinels matched by errors.Is against any *Error of the same code.
var (
	ErrNotFound          = errors.New("bot not found")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrHandlerFault      = errors.New("handler fault")
	ErrExecutionTimeout  = errors.New("execution timeout")
	ErrConnectionFault   = errors.New("connection fault")
	ErrValidation        = errors.New("validation error")
	ErrDatabase          = errors.New("database error")
	ErrConfig            = errors.New("configuration error")
)

var sentinels = map[string]error{
	CodeNotFound:          ErrNotFound,
	CodeInvalidCredential: ErrInvalidCredential,
	CodeHandlerFault:      ErrHandlerFault,
	CodeExecutionTimeout:  ErrExecutionTimeout,
	CodeConnectionFault:   ErrConnectionFault,
	CodeValidation:        ErrValidation,
	CodeDatabase:          ErrDatabase,
	CodeConfig:            ErrConfig,
}

// categories are the names shown to chat users in diagnostic replies.
var categories = map[string]string{
	CodeNotFound:          "NotFound",
	CodeInvalidCredential: "InvalidCredential",
	CodeHandlerFault:      "HandlerFault",
	CodeExecutionTimeout:  "ExecutionTimeout",
	CodeConnectionFault:   "ConnectionFault",
	CodeValidation:        "Validation",
	CodeDatabase:          "Database",
	CodeConfig:            "Config",
}

// Error represents a coded application error.
type Error struct {
	code    string
	message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}

	return e.message
}

// Code returns the error code.
func (e *Error) Code() string {
	return e.code
}

// Message returns the message without the wrapped cause.
func (e *Error) Message() string {
	return e.message
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is reports whether target is the sentinel for this error's code.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.code]
	return ok && s == target
}

// New creates an error with the given code.
func New(code, message string, cause error) error {
	return &Error{code: code, message: message, err: cause}
}

// Code returns the code of the first *Error in err's chain,
// or CodeUnknown if there is none.
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code()
	}

	return CodeUnknown
}

// Category returns the user-facing category name for err.
func Category(err error) string {
	if c, ok := categories[Code(err)]; ok {
		return c
	}
	return "Error"
}

// Message returns the message of the first *Error in err's chain, or
// err.Error() otherwise.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.err != nil {
			return appErr.Error()
		}
		return appErr.message
	}
	return err.Error()
}

func NotFound(botID string) error {
	return &Error{code: CodeNotFound, message: fmt.Sprintf("bot %q not found", botID)}
}

func InvalidCredential(cause error) error {
	return &Error{code: CodeInvalidCredential, message: "provider rejected credential", err: cause}
}

func HandlerFault(message string, cause error) error {
	return &Error{code: CodeHandlerFault, message: message, err: cause}
}

func ExecutionTimeout(message string) error {
	return &Error{code: CodeExecutionTimeout, message: message}
}

func ConnectionFault(message string, cause error) error {
	return &Error{code: CodeConnectionFault, message: message, err: cause}
}

func Validation(message string, cause error) error {
	return &Error{code: CodeValidation, message: message, err: cause}
}

func Database(message string, cause error) error {
	return &Error{code: CodeDatabase, message: message, err: cause}
}

func Config(message string, cause error) error {
	return &Error{code: CodeConfig, message: message, err: cause}
}
