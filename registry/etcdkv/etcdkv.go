// Package etcdkv implements the registry contract over the etcd v2 keys
// API. Members are entries in a nested directory, key/[partition/]env/,
// whose name is the instance ID and whose value is the worker count; the
// server's native TTL expires entries of crashed members, and change
// detection is a recursive long-poll watch on the environment directory.
package etcdkv

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strconv"
	"time"

	"go.etcd.io/etcd/client/v2"

	"github.com/bbcarchdev/libcluster/types"
)

// dialTimeout bounds the directory preparation performed by Dial.
const dialTimeout = 10 * time.Second

// scopeDir maps a scope onto its registry directory,
// /<key>/[<partition>/]<environment>.
func scopeDir(scope types.Scope) string {
	dir := "/" + scope.Key
	if scope.Partition != "" {
		dir = path.Join(dir, scope.Partition)
	}

	return path.Join(dir, scope.Environment)
}

// Registry is a handle onto one etcd registry scope.
type Registry struct {
	keys    client.KeysAPI
	watcher client.Watcher
	dir     string
	logger  types.Logger
}

var _ types.Registry = (*Registry)(nil)

// Dial connects to the etcd registry at the endpoint URI and prepares the
// directory for the given scope, creating it when absent.
func Dial(endpoint string, scope types.Scope, logger types.Logger) (*Registry, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("cannot parse registry URI: %w", err)
	}

	c, err := client.New(client.Config{
		Endpoints:               []string{u.Scheme + "://" + u.Host},
		Transport:               client.DefaultTransport,
		HeaderTimeoutPerRequest: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot connect to registry: %w", err)
	}

	dir := scopeDir(scope)
	keys := client.NewKeysAPI(c)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	// Create-or-open: creating an existing directory reports NodeExist,
	// which is the "open" case.
	_, err = keys.Set(ctx, dir, "", &client.SetOptions{Dir: true, PrevExist: client.PrevNoExist})
	if err != nil && !isEtcdError(err, client.ErrorCodeNodeExist) {
		return nil, fmt.Errorf("failed to create or open registry directory %s: %w", dir, err)
	}

	return &Registry{
		keys:    keys,
		watcher: keys.Watcher(dir, &client.WatcherOptions{Recursive: true}),
		dir:     dir,
		logger:  logger,
	}, nil
}

// Announce writes the member's directory entry with the given TTL. The
// initial announce succeeds whether or not the entry exists; a refresh
// requires prior existence, so a silently expired entry surfaces as an
// error and takes the heartbeat retry path.
func (r *Registry) Announce(ctx context.Context, instanceID string, workers int, ttl time.Duration, refresh bool) error {
	prevExist := client.PrevIgnore
	if refresh {
		prevExist = client.PrevExist
	}

	_, err := r.keys.Set(ctx, path.Join(r.dir, instanceID), strconv.Itoa(workers), &client.SetOptions{
		TTL:       ttl,
		PrevExist: prevExist,
	})
	if err != nil {
		return fmt.Errorf("failed to write registry entry: %w", err)
	}

	return nil
}

// Retract deletes the member's directory entry. A missing entry is not an
// error; it may already have expired.
func (r *Registry) Retract(ctx context.Context, instanceID string) error {
	_, err := r.keys.Delete(ctx, path.Join(r.dir, instanceID), nil)
	if err != nil && !isEtcdError(err, client.ErrorCodeKeyNotFound) {
		return fmt.Errorf("failed to delete registry entry: %w", err)
	}

	return nil
}

// Snapshot enumerates the scope directory. Expiry is the server's concern:
// entries past their TTL are simply absent.
func (r *Registry) Snapshot(ctx context.Context) ([]types.Member, error) {
	resp, err := r.keys.Get(ctx, r.dir, &client.GetOptions{Sort: true})
	if err != nil {
		if isEtcdError(err, client.ErrorCodeKeyNotFound) {
			r.logger.Debug("registry directory absent", "dir", r.dir)

			return nil, nil
		}

		return nil, fmt.Errorf("failed to retrieve cluster directory: %w", err)
	}

	members := decodeNodes(resp.Node)

	// The server already sorts by key; keep the ordering contract local
	// regardless.
	sort.Slice(members, func(i, j int) bool {
		return members[i].InstanceID < members[j].InstanceID
	})

	return members, nil
}

// decodeNodes converts the directory listing into members. Sub-directories
// are skipped; an unparsable value counts as zero workers.
func decodeNodes(dir *client.Node) []types.Member {
	if dir == nil {
		return nil
	}

	var members []types.Member
	for _, node := range dir.Nodes {
		if node.Dir {
			continue
		}
		workers, err := strconv.Atoi(node.Value)
		if err != nil {
			workers = 0
		}
		members = append(members, types.Member{
			InstanceID: path.Base(node.Key),
			Workers:    workers,
		})
	}

	return members
}

// AwaitChange issues a recursive long-poll wait on the scope directory and
// returns as soon as any child changes.
func (r *Registry) AwaitChange(ctx context.Context) error {
	if _, err := r.watcher.Next(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return fmt.Errorf("failed to wait for registry changes: %w", err)
	}

	return nil
}

// Close releases the handle. The v2 client holds no persistent connection
// of its own.
func (r *Registry) Close() error {
	return nil
}

func isEtcdError(err error, code int) bool {
	var etcdErr client.Error
	if errors.As(err, &etcdErr) {
		return etcdErr.Code == code
	}

	return false
}
