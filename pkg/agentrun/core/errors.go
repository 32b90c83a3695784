package core

import "github.com/runloom/runloom/internal/perrors"

// Error kind constructors per spec §7. These wrap perrors.New so every
// error raised by this core carries the same stacktrace-capturing,
// slog-printable shape as the rest of the module.

func ErrNotFound(msg string, err error, args ...map[string]any) error {
	return perrors.NewErrNotFound(msg, err, args...)
}

func ErrBadRequest(msg string, err error, args ...map[string]any) error {
	return perrors.NewErrInvalidRequest(msg, err, args...)
}

func ErrAlreadyRunning(msg string, err error, args ...map[string]any) error {
	return perrors.NewErrAlreadyRunning(msg, err, args...)
}

func ErrTimeout(msg string, err error, args ...map[string]any) error {
	return perrors.NewErrTimeout(msg, err, args...)
}

func ErrInternal(msg string, err error, args ...map[string]any) error {
	return perrors.NewErrInternalServerError(msg, err, args...)
}

// IsNotFound, IsAlreadyRunning etc. classify an error by its perrors
// code, matching the teacher's `Err.Code`-comparison idiom used at API
// boundaries to pick an HTTP status.
func IsNotFound(err error) bool       { return hasCode(err, perrors.ErrCodeNotFound) }
func IsAlreadyRunning(err error) bool { return hasCode(err, perrors.ErrCodeAlreadyRunning) }
func IsTimeout(err error) bool        { return hasCode(err, perrors.ErrCodeTimeout) }
func IsBadRequest(err error) bool     { return hasCode(err, perrors.ErrCodeInvalidRequest) }

func hasCode(err error, code perrors.ErrCode) bool {
	c, ok := perrors.Code(err)
	return ok && c.Code == code.Code
}
