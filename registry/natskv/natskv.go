// Package natskv implements the registry contract over a NATS JetStream
// key-value bucket. Each cluster key maps to one bucket whose entry TTL
// expires crashed members; entries are named <env>.<instance> (or
// <partition>.<env>.<instance>) and hold the worker count. Change detection
// is a KV watcher over the scope prefix, backed by a forced-balance cap:
// unlike etcd, a bucket purging an expired entry does not reliably notify
// watchers, so the watch falls through periodically and re-balances anyway.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/bbcarchdev/libcluster/types"
)

const (
	// bucketPrefix namespaces this library's buckets on a shared server.
	bucketPrefix = "cluster-"

	// dialTimeout bounds bucket preparation performed by Dial.
	dialTimeout = 10 * time.Second

	// maxBalanceWait caps how long AwaitChange blocks before forcing a
	// balance, for liveness against unnotified TTL expiries.
	maxBalanceWait = 30 * time.Second
)

// ErrEntryExpired is returned by a refresh announce whose entry is missing,
// so the heartbeat loop can take its retry path.
var ErrEntryExpired = errors.New("registry entry missing or expired")

// Registry is a handle onto one bucket scope.
type Registry struct {
	nc      *nats.Conn
	kv      jetstream.KeyValue
	prefix  string
	watcher jetstream.KeyWatcher
	logger  types.Logger
}

var _ types.Registry = (*Registry)(nil)

// Dial connects to the NATS server at the endpoint URI and creates or opens
// the bucket for the scope's cluster key. The bucket's entry TTL is fixed
// at creation from the first member's configuration; members of one cluster
// are expected to share a TTL.
func Dial(endpoint string, scope types.Scope, ttl time.Duration, logger types.Logger) (*Registry, error) {
	nc, err := nats.Connect(endpoint)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to registry: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	bucket := bucketPrefix + scope.Key
	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
		TTL:     ttl,
	})
	if err != nil {
		// Create-or-open, the same way the directory backends treat an
		// existing directory.
		kv, err = js.KeyValue(ctx, bucket)
		if err != nil {
			nc.Close()

			return nil, fmt.Errorf("failed to create or open bucket %s: %w", bucket, err)
		}
	}

	return &Registry{
		nc:     nc,
		kv:     kv,
		prefix: prefixFor(scope),
		logger: logger,
	}, nil
}

// prefixFor maps a scope onto its key prefix within the bucket:
// <environment> or <partition>.<environment>.
func prefixFor(scope types.Scope) string {
	if scope.Partition != "" {
		return scope.Partition + "." + scope.Environment
	}

	return scope.Environment
}

func (r *Registry) entryKey(instanceID string) string {
	return r.prefix + "." + instanceID
}

// Announce writes the member's entry. A refresh requires prior existence so
// a silently expired entry surfaces as ErrEntryExpired.
func (r *Registry) Announce(ctx context.Context, instanceID string, workers int, _ time.Duration, refresh bool) error {
	key := r.entryKey(instanceID)

	if refresh {
		if _, err := r.kv.Get(ctx, key); err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				return ErrEntryExpired
			}

			return fmt.Errorf("failed to check registry entry: %w", err)
		}
	}

	if _, err := r.kv.Put(ctx, key, []byte(strconv.Itoa(workers))); err != nil {
		return fmt.Errorf("failed to write registry entry: %w", err)
	}

	return nil
}

// Retract purges the member's entry.
func (r *Registry) Retract(ctx context.Context, instanceID string) error {
	if err := r.kv.Purge(ctx, r.entryKey(instanceID)); err != nil {
		return fmt.Errorf("failed to delete registry entry: %w", err)
	}

	return nil
}

// Snapshot enumerates the scope's entries. Expiry is the bucket's concern:
// entries past the TTL are simply absent.
func (r *Registry) Snapshot(ctx context.Context) ([]types.Member, error) {
	lister, err := r.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list bucket keys: %w", err)
	}
	defer func() {
		_ = lister.Stop()
	}()

	prefix := r.prefix + "."

	var members []types.Member
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		instanceID := strings.TrimPrefix(key, prefix)
		if strings.Contains(instanceID, ".") {
			// An entry of a different partition scope.
			continue
		}

		entry, err := r.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				// Expired between listing and reading.
				continue
			}

			return nil, fmt.Errorf("failed to read registry entry %s: %w", key, err)
		}

		workers, err := strconv.Atoi(string(entry.Value()))
		if err != nil {
			workers = 0
		}
		members = append(members, types.Member{InstanceID: instanceID, Workers: workers})
	}

	sort.Slice(members, func(i, j int) bool {
		return members[i].InstanceID < members[j].InstanceID
	})

	return members, nil
}

// AwaitChange blocks until a scope entry changes, the cap elapses, or the
// context is cancelled. The cap return also reports "changed" because TTL
// expiry is invisible to the watcher.
func (r *Registry) AwaitChange(ctx context.Context) error {
	if r.watcher == nil {
		watcher, err := r.kv.Watch(ctx, r.prefix+".*", jetstream.UpdatesOnly())
		if err != nil {
			return fmt.Errorf("failed to watch bucket: %w", err)
		}
		r.watcher = watcher
	}

	timer := time.NewTimer(maxBalanceWait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case entry, ok := <-r.watcher.Updates():
			if !ok {
				r.watcher = nil

				return errors.New("bucket watcher closed")
			}
			if entry == nil {
				// End-of-replay marker.
				continue
			}

			return nil
		}
	}
}

// Close stops the watcher and closes the connection.
func (r *Registry) Close() error {
	if r.watcher != nil {
		if err := r.watcher.Stop(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			r.logger.Warn("failed to stop bucket watcher", "error", err)
		}
		r.watcher = nil
	}
	r.nc.Close()

	return nil
}
