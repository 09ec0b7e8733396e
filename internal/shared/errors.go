package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionMissing indicates a request without a resolvable session.
	ErrSessionMissing = errors.New("session missing")
	// ErrAccessDenied indicates a row-level restriction excluded a record.
	ErrAccessDenied = errors.New("access denied")
)

// userSafeError wraps an error whose message may be shown verbatim to end
// users.
type userSafeError struct {
	err error
}

func (e userSafeError) Error() string { return e.err.Error() }
func (e userSafeError) Unwrap() error { return e.err }

// UserSafe marks an error as presentable to end users.
func UserSafe(err error) error {
	if err == nil {
		return nil
	}
	return userSafeError{err: err}
}

// UserSafeMessage returns the message to surface for an error: the wrapped
// text for user-safe errors, a generic fallback otherwise so internals never
// leak into responses.
func UserSafeMessage(err error) string {
	var safe userSafeError
	if errors.As(err, &safe) {
		return safe.err.Error()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "The requested record does not exist."
	case errors.Is(err, ErrAccessDenied):
		return "You are not allowed to access this record."
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid credentials."
	default:
		return "Something went wrong. Please try again."
	}
}
