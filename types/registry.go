package types

import (
	"context"
	"time"
)

// Member is a single registry entry: one process instance and the number of
// worker slots it contributes.
type Member struct {
	InstanceID string
	Workers    int
}

// Scope identifies the portion of the registry a cluster member operates on.
// Entries outside the scope are invisible to Snapshot and AwaitChange.
type Scope struct {
	// Key is the cluster name.
	Key string

	// Environment is the namespace within the key.
	Environment string

	// Partition is an optional sub-namespace within the environment.
	// Empty means "no partition": only entries without a partition match.
	Partition string

	// InstanceID is the local member's identifier. It does not narrow the
	// scope; backends that record per-node annotations or job ownership
	// use it to attribute their rows.
	InstanceID string
}

// Registry is the capability interface the membership engine consumes from a
// backend. The engine never branches on backend identity; all backend-specific
// timing (TTL bookkeeping, polling cadence, forced-balance caps) lives behind
// this contract.
//
// Implementations are single-owner: the engine opens one handle for the
// heartbeat loop and an independent one for the watch/balance loop, so no
// method needs to be safe for concurrent use on the same handle.
type Registry interface {
	// Announce idempotently asserts the member's presence in the registry
	// scope with the given TTL. With refresh set, the entry is expected to
	// already exist: an expired or missing entry is reported as an error so
	// the heartbeat loop can take its retry path. Backends without a way to
	// express the distinction may ignore the flag.
	Announce(ctx context.Context, instanceID string, workers int, ttl time.Duration, refresh bool) error

	// Retract removes the member's entry. Best-effort; failures are logged
	// by the caller, not treated as fatal.
	Retract(ctx context.Context, instanceID string) error

	// Snapshot returns the unexpired entries in scope, sorted ascending by
	// instance ID.
	Snapshot(ctx context.Context) ([]Member, error)

	// AwaitChange blocks until the registry scope has plausibly changed. A
	// nil return means the caller should re-balance; backends that cannot
	// observe changes directly return nil after their forced-balance cap. A
	// non-nil error tells the caller to back off before trying again.
	AwaitChange(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// SchemaMigrator is implemented by registries that keep their state in a
// store requiring schema management. The engine runs the migration once
// during join, before the first announce.
type SchemaMigrator interface {
	MigrateSchema(ctx context.Context) error
}
