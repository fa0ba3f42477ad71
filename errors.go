package cluster

import "errors"

// Sentinel errors returned by the public API.
var (
	// ErrNotPermitted is returned when an operation is not valid in the
	// cluster's current lifecycle state, such as reconfiguring a joined
	// cluster.
	ErrNotPermitted = errors.New("operation not permitted in current state")

	// ErrInvalidArgument is returned for malformed identifiers, out-of-range
	// indices, and unsupported registry URI schemes.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBackendUnavailable is returned from Join when the registry cannot
	// be reached or its schema cannot be prepared.
	ErrBackendUnavailable = errors.New("registry backend unavailable")

	// ErrNotSupported is returned for operations the configured backend
	// cannot provide, such as data annotations outside the SQL backend.
	ErrNotSupported = errors.New("operation not supported by this backend")
)
