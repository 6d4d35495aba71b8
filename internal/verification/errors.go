package verification

import "errors"

// Code classifies the recoverable verification failures. Every code maps to a
// deterministic user-facing outcome at the handler boundary; none escapes it.
type Code string

const (
	CodeUserPendingOrOnCooldown       Code = "USER_PENDING_OR_ON_COOLDOWN"
	CodeNoQuizzesAvailable            Code = "NO_QUIZZES_AVAILABLE"
	CodeStateStorageFailed            Code = "STATE_STORAGE_FAILED"
	CodeInvalidCallbackData           Code = "INVALID_CALLBACK_DATA"
	CodeUserOnCooldown                Code = "USER_ON_COOLDOWN"
	CodeUserNotMatch                  Code = "USER_NOT_MATCH"
	CodeIncorrectOptionOrExpiredToken Code = "INCORRECT_OPTION_OR_EXPIRED_TOKEN"
	CodeStateDeserializationFailed    Code = "STATE_DESERIALIZATION_FAILED"
	CodeStateValidationFailed         Code = "STATE_VALIDATION_FAILED"
)

// Error is a coded verification failure.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a coded error.
func E(code Code, msg string) error {
	return &Error{Code: code, Msg: msg}
}

// Wrap builds a coded error around a cause.
func Wrap(code Code, msg string, err error) error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	var ve *Error
	return errors.As(err, &ve) && ve.Code == code
}

// CodeOf extracts the code from err, if any.
func CodeOf(err error) (Code, bool) {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code, true
	}
	return "", false
}
