// Package kernelerrors defines the sentinel error values for the
// authorization kernel's error taxonomy.
package kernelerrors

import "errors"

var (
	// ErrUnauthorized means admission was denied for a request; callers
	// should respond 401 per the kernel's HTTP surface.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPromptTimeout means the consent prompt was not answered within
	// its deadline; treated identically to ErrUnauthorized by callers.
	ErrPromptTimeout = errors.New("consent prompt timed out")

	// ErrStoreUnavailable means the permission store could not complete
	// a read or write; callers should respond 500 and must not synthesize
	// a grant.
	ErrStoreUnavailable = errors.New("permission store unavailable")

	// ErrRegistryConflict means a plugin name was already registered;
	// callers should warn and treat the registration as a no-op.
	ErrRegistryConflict = errors.New("plugin already registered")

	// ErrSecretIOFailure means the persisted secret key could not be
	// read or written; fatal at startup.
	ErrSecretIOFailure = errors.New("secret key unreadable or unwritable")
)
