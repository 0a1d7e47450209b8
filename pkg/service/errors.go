package service

import "errors"

// Domain errors. The HTTP layer matches these with errors.Is; wrapped causes
// carry the detail for logs.
var (
	// ErrInvalidURL means the target is not a well-formed http(s) URL.
	ErrInvalidURL = errors.New("invalid target url")

	// ErrAliasFormat means the custom alias fails the allowed pattern.
	ErrAliasFormat = errors.New("invalid alias format")

	// ErrAliasConflict means the alias is reserved or already bound to an
	// active link.
	ErrAliasConflict = errors.New("alias already in use")

	// ErrGenerationExhausted means no unique code was found within the
	// attempt budget.
	ErrGenerationExhausted = errors.New("short code generation exhausted")

	// ErrNotFound covers missing, deleted and expired links alike. Callers
	// must not be able to tell which.
	ErrNotFound = errors.New("link not found")

	// ErrStorageUnavailable wraps storage connectivity failures.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
