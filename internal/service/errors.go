package service

// Error taxonomy surfaced to the HTTP layer. Each type maps to one
// status code there; anything untyped is a server-side failure.

// AuthenticationError signals a missing credential.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return e.Reason
}

// ErrAPIKeyMissing is returned when the Authorization header is absent.
var ErrAPIKeyMissing = &AuthenticationError{Reason: "API Key missing from `Authorization` Header"}

// NotFoundError signals a failed project, user, label, label value or
// segmentation lookup.
type NotFoundError struct {
	Reason string
}

func (e *NotFoundError) Error() string {
	return e.Reason
}

// ValidationError signals a malformed or inconsistent request payload.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// UnsupportedMediaTypeError signals a file extension outside the
// accepted whitelist.
type UnsupportedMediaTypeError struct {
	Extension string
}

func (e *UnsupportedMediaTypeError) Error() string {
	return "File format is not supported"
}
