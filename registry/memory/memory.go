// Package memory provides an in-process registry backend. It exists for
// tests and examples: several members sharing one Hub behave like members
// of one real registry, including TTL expiry and change notification, with
// no external service involved.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/bbcarchdev/libcluster/types"
)

// ErrEntryExpired is returned by a refresh announce whose entry is missing
// or expired, mirroring the behavior of the real backends.
var ErrEntryExpired = errors.New("registry entry missing or expired")

type entry struct {
	workers int
	expires time.Time
}

// Hub is the shared state behind any number of Registry handles. Members
// that should see each other must open their handles from the same Hub.
type Hub struct {
	entries *xsync.Map[string, entry]

	mu      sync.Mutex
	waiters map[*Registry]chan struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		entries: xsync.NewMap[string, entry](),
		waiters: make(map[*Registry]chan struct{}),
	}
}

// Dial opens a registry handle on the hub. The signature matches the
// engine's RegistryDialer so a hub method can be passed directly as the
// dialer; the endpoint and TTL arguments are unused.
func (h *Hub) Dial(_ string, scope types.Scope, _ time.Duration, _ types.Logger) (types.Registry, error) {
	return h.Open(scope), nil
}

// Open returns a registry handle scoped to the given key, environment and
// partition.
func (h *Hub) Open(scope types.Scope) *Registry {
	r := &Registry{hub: h, scope: scope}

	h.mu.Lock()
	h.waiters[r] = make(chan struct{}, 1)
	h.mu.Unlock()

	return r
}

// Expire marks a member's entry as expired and wakes the watchers, as if
// its TTL had elapsed. Returns false when there is no such entry.
func (h *Hub) Expire(scope types.Scope, instanceID string) bool {
	key := entryKey(scope, instanceID)
	e, ok := h.entries.Load(key)
	if !ok {
		return false
	}
	e.expires = time.Now().Add(-time.Second)
	h.entries.Store(key, e)
	h.broadcast()

	return true
}

// broadcast wakes every handle blocked in AwaitChange.
func (h *Hub) broadcast() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func entryKey(scope types.Scope, instanceID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", scope.Key, scope.Partition, scope.Environment, instanceID)
}

func scopePrefix(scope types.Scope) string {
	return fmt.Sprintf("%s/%s/%s/", scope.Key, scope.Partition, scope.Environment)
}

// Registry is one member's handle onto a Hub.
type Registry struct {
	hub   *Hub
	scope types.Scope
}

var _ types.Registry = (*Registry)(nil)

// Announce asserts the member's presence. With refresh set the entry must
// already exist and be unexpired, matching the real backends' heartbeat
// semantics.
func (r *Registry) Announce(_ context.Context, instanceID string, workers int, ttl time.Duration, refresh bool) error {
	key := entryKey(r.scope, instanceID)

	if refresh {
		e, ok := r.hub.entries.Load(key)
		if !ok || e.expires.Before(time.Now()) {
			return ErrEntryExpired
		}
	}

	r.hub.entries.Store(key, entry{workers: workers, expires: time.Now().Add(ttl)})
	r.hub.broadcast()

	return nil
}

// Retract removes the member's entry.
func (r *Registry) Retract(_ context.Context, instanceID string) error {
	r.hub.entries.Delete(entryKey(r.scope, instanceID))
	r.hub.broadcast()

	return nil
}

// Snapshot returns the unexpired entries in scope, ascending by instance ID.
func (r *Registry) Snapshot(_ context.Context) ([]types.Member, error) {
	prefix := scopePrefix(r.scope)
	now := time.Now()

	var members []types.Member
	r.hub.entries.Range(func(key string, e entry) bool {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix && !e.expires.Before(now) {
			members = append(members, types.Member{
				InstanceID: key[len(prefix):],
				Workers:    e.workers,
			})
		}

		return true
	})

	sort.Slice(members, func(i, j int) bool {
		return members[i].InstanceID < members[j].InstanceID
	})

	return members, nil
}

// AwaitChange blocks until any entry on the hub changes or the context is
// cancelled.
func (r *Registry) AwaitChange(ctx context.Context) error {
	r.hub.mu.Lock()
	ch, ok := r.hub.waiters[r]
	r.hub.mu.Unlock()
	if !ok {
		return errors.New("registry handle is closed")
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close unregisters the handle from the hub.
func (r *Registry) Close() error {
	r.hub.mu.Lock()
	delete(r.hub.waiters, r)
	r.hub.mu.Unlock()

	return nil
}
