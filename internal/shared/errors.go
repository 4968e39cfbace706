package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the operation lost a serialization race and may
	// be retried by the caller.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrForbidden indicates the actor's role does not allow the call.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized indicates the request carries no actor identity.
	ErrUnauthorized = errors.New("unauthorized")
)
