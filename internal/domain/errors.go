package domain

import "errors"

// Error taxonomy for the retrieval core. Callers branch with errors.Is and
// map these onto transport status codes; everything else is internal.
var (
	// ErrValidation indicates malformed or too-short input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrAuthentication indicates a missing, invalid, revoked, or expired
	// credential. Deliberately carries no detail about which case applied.
	ErrAuthentication = errors.New("authentication failed")

	// ErrAuthorization indicates a valid identity acting outside its scope
	// (e.g. a read-scoped credential calling a write operation).
	//
	// Cross-tenant lookups by ID must NOT use this error: they return
	// ErrNotFound so that "exists but hidden" is indistinguishable from
	// "does not exist".
	ErrAuthorization = errors.New("not authorized")

	// ErrProvider indicates an embedding backend failure after retry
	// exhaustion.
	ErrProvider = errors.New("embedding provider failed")

	// ErrNotFound indicates the referenced item or identity does not exist,
	// or is not visible to the caller.
	ErrNotFound = errors.New("not found")

	// ErrInvalidQuery indicates malformed search parameters, such as a query
	// vector whose dimension does not match the index. Never retried.
	ErrInvalidQuery = errors.New("invalid query")
)
