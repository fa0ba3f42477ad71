package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bbcarchdev/libcluster/internal/identity"
	"github.com/bbcarchdev/libcluster/internal/logging"
	"github.com/bbcarchdev/libcluster/internal/metrics"
	"github.com/bbcarchdev/libcluster/types"
)

type flagSet uint32

const (
	flagJoined flagSet = 1 << iota
	flagLeaving
	flagVerbose
	flagPassive
)

// BalanceFunc is invoked whenever this member's base index or the
// cluster-wide worker total changes. The cluster handle is valid for the
// duration of the callback only; retain the Cluster you created, not the
// argument. Invocations for the same cluster are serialized and happen with
// no internal lock held, so the callback may call back into the cluster.
type BalanceFunc func(c *Cluster, state types.State)

// Cluster is a connection to one cluster: the member configuration, the
// current (base, workers, total) assignment, and the background heartbeat
// and watch/balance loops that keep the assignment fresh while joined.
//
// All exported methods are safe for concurrent use except where noted. The
// zero value is not usable; create instances with New or NewFromConfig.
type Cluster struct {
	// mu is a pointer so the child side of a fork can re-initialize it;
	// its state across a fork is undefined.
	mu  *sync.RWMutex
	cfg Config

	flags flagSet
	index int
	total int

	balancer BalanceFunc
	logger   types.Logger
	metrics  types.MetricsCollector
	dialer   RegistryDialer

	// Two independent registry handles, one per loop, so a slow balance
	// query can never block a heartbeat.
	heartbeatReg types.Registry
	balanceReg   types.Registry
	jobs         types.JobStore
	data         types.DataStore

	// announced records that at least one announce reached the registry and
	// no retract has since been issued.
	announced bool

	hbDone      chan struct{}
	watchDone   chan struct{}
	watchCancel context.CancelFunc
}

// New creates a cluster connection with the given key and options applied
// over production defaults. The connection starts unjoined; configure it
// with options or setters, then call Join.
//
// Parameters:
//   - key: cluster name, up to 32 alphanumeric or hyphen characters
//   - opts: optional configuration (logger, metrics, workers, registry, ...)
//
// Returns:
//   - *Cluster: the unjoined cluster connection
//   - error: validation error when the key or an option value is invalid
func New(key string, opts ...Option) (*Cluster, error) {
	cfg := DefaultConfig()
	cfg.Key = key

	return NewFromConfig(cfg, opts...)
}

// NewFromConfig creates a cluster connection from an explicit Config, such
// as one produced by LoadConfig. Options are applied after the config and
// take precedence.
func NewFromConfig(cfg Config, opts ...Option) (*Cluster, error) {
	c := &Cluster{
		mu:      &sync.RWMutex{},
		cfg:     cfg,
		index:   -1,
		logger:  logging.NewNop(),
		metrics: metrics.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	SetDefaults(&c.cfg)

	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}
	if c.cfg.Registry != "" && c.dialer == nil {
		if err := checkRegistryScheme(c.cfg.Registry); err != nil {
			return nil, err
		}
	}

	c.cfg.ValidateWithWarnings(c.logger)

	return c, nil
}

// Destroy leaves the cluster if it is joined and releases its resources.
// The cluster must not be used afterwards.
func (c *Cluster) Destroy() error {
	return c.Leave()
}

// Key returns the cluster name. Non-locking: the caller is responsible for
// not racing it against concurrent configuration changes.
func (c *Cluster) Key() string {
	return c.cfg.Key
}

// Environment returns the environment name. Non-locking; see Key.
func (c *Cluster) Environment() string {
	return c.cfg.Environment
}

// InstanceID returns this member's instance identifier. Non-locking; see Key.
func (c *Cluster) InstanceID() string {
	return c.cfg.InstanceID
}

// Partition returns the partition name, or the empty string. Non-locking;
// see Key.
func (c *Cluster) Partition() string {
	return c.cfg.Partition
}

// State returns this member's current position within the cluster.
func (c *Cluster) State() types.State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.stateLocked()
}

// Joined reports whether the cluster is currently joined.
func (c *Cluster) Joined() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.flags&flagJoined != 0
}

// stateLocked builds the immutable state snapshot. Callers hold the lock.
func (c *Cluster) stateLocked() types.State {
	st := types.State{
		Index:   c.index,
		Workers: c.cfg.Workers,
		Total:   c.total,
		Passive: c.flags&flagPassive != 0,
	}
	if st.Passive {
		st.Workers = 0
	}

	return st
}

// SetEnvironment sets the environment namespace. An empty name restores the
// default, "production". Returns ErrNotPermitted while joined.
func (c *Cluster) SetEnvironment(env string) error {
	if env == "" {
		env = DefaultConfig().Environment
	}
	if !identity.ValidName(env) {
		return fmt.Errorf("%w: environment must be 1-32 alphanumeric characters", ErrInvalidArgument)
	}

	return c.setConfig(func(cfg *Config) {
		cfg.Environment = env
		c.debugLocked("environment name set", "environment", env)
	})
}

// SetInstanceID sets the stable instance identifier: 2 to 32 alphanumeric
// characters. Returns ErrNotPermitted while joined.
func (c *Cluster) SetInstanceID(id string) error {
	if !identity.ValidID(id) {
		return fmt.Errorf("%w: instance ID must be 2-32 alphanumeric characters", ErrInvalidArgument)
	}

	return c.setConfig(func(cfg *Config) {
		cfg.InstanceID = id
		c.debugLocked("instance ID set", "instance", id)
	})
}

// ResetInstanceID replaces the instance identifier with a fresh random
// token. Returns ErrNotPermitted while joined.
func (c *Cluster) ResetInstanceID() error {
	return c.setConfig(func(cfg *Config) {
		cfg.InstanceID = identity.NewToken()
		c.debugLocked("instance ID reset", "instance", cfg.InstanceID)
	})
}

// SetPartition sets the partition sub-namespace. An empty name clears it.
// Returns ErrNotPermitted while joined.
func (c *Cluster) SetPartition(partition string) error {
	if partition != "" && !identity.ValidName(partition) {
		return fmt.Errorf("%w: partition must be 1-32 alphanumeric characters", ErrInvalidArgument)
	}

	return c.setConfig(func(cfg *Config) {
		cfg.Partition = partition
		c.debugLocked("partition set", "partition", partition)
	})
}

// SetWorkers sets the number of worker slots this member contributes.
// Returns ErrNotPermitted while joined.
func (c *Cluster) SetWorkers(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: worker count must be a positive integer", ErrInvalidArgument)
	}

	return c.setConfig(func(cfg *Config) {
		cfg.Workers = n
		c.debugLocked("worker count set", "workers", n)
	})
}

// SetRegistry sets the registry endpoint URI. An empty URI selects static
// mode. Without a RegistryDialer an unrecognized scheme returns
// ErrInvalidArgument; with one, the scheme is not checked here and the
// dialer receives the endpoint at Join. Reconfiguring a joined cluster
// returns ErrNotPermitted.
func (c *Cluster) SetRegistry(uri string) error {
	if uri != "" && c.dialer == nil {
		if err := checkRegistryScheme(uri); err != nil {
			return err
		}
	}

	return c.setConfig(func(cfg *Config) {
		cfg.Registry = uri
		if uri == "" {
			c.debugLocked("cluster type set to static (no registry)")
		} else {
			c.debugLocked("registry endpoint set", "registry", uri)
		}
	})
}

// SetForkPolicy selects which side of a process fork resumes membership.
// Returns ErrNotPermitted while joined.
func (c *Cluster) SetForkPolicy(policy ForkPolicy) error {
	if policy&ForkBoth == 0 {
		return fmt.Errorf("%w: fork policy must include the parent, the child, or both", ErrInvalidArgument)
	}

	return c.setConfig(func(cfg *Config) {
		cfg.ForkPolicy = policy
	})
}

// SetTTL sets the registry entry time-to-live. Returns ErrNotPermitted
// while joined.
func (c *Cluster) SetTTL(ttl time.Duration) error {
	if ttl < time.Second {
		return fmt.Errorf("%w: TTL must be at least one second", ErrInvalidArgument)
	}

	return c.setConfig(func(cfg *Config) {
		cfg.TTL = ttl
	})
}

// SetRefresh sets the heartbeat period. Returns ErrNotPermitted while
// joined.
func (c *Cluster) SetRefresh(refresh time.Duration) error {
	if refresh < time.Second {
		return fmt.Errorf("%w: refresh period must be at least one second", ErrInvalidArgument)
	}

	return c.setConfig(func(cfg *Config) {
		cfg.Refresh = refresh
	})
}

// SetBalancer sets the rebalance callback. Returns ErrNotPermitted while
// joined.
func (c *Cluster) SetBalancer(fn BalanceFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.flags&flagJoined != 0 {
		c.logger.Info("cannot alter cluster parameters while joined", "key", c.cfg.Key)

		return ErrNotPermitted
	}
	c.balancer = fn

	return nil
}

// SetLogger sets the logger. Unlike the other setters this is permitted
// while joined. A nil logger silences the cluster.
func (c *Cluster) SetLogger(logger types.Logger) {
	if logger == nil {
		logger = logging.NewNop()
	}

	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// SetVerbose toggles per-member debug detail, such as the full membership
// listing on every balance pass. Permitted while joined.
func (c *Cluster) SetVerbose(verbose bool) {
	c.mu.Lock()
	if verbose {
		c.flags |= flagVerbose
	} else {
		c.flags &^= flagVerbose
	}
	c.mu.Unlock()
}

// setConfig applies fn to the configuration under the write lock, refusing
// when the cluster is joined.
func (c *Cluster) setConfig(fn func(cfg *Config)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.flags&flagJoined != 0 {
		c.logger.Info("cannot alter cluster parameters while joined", "key", c.cfg.Key)

		return ErrNotPermitted
	}

	fn(&c.cfg)

	return nil
}

// debugLocked emits a debug message when the verbose flag is set. Callers
// hold the lock.
func (c *Cluster) debugLocked(msg string, keysAndValues ...any) {
	if c.flags&flagVerbose != 0 {
		c.logger.Debug(msg, keysAndValues...)
	}
}

// opContext returns a context bounding one registry call.
func (c *Cluster) opContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// sleepInterruptible sleeps for up to d in one-second slices, returning
// early once the leaving flag is raised.
func (c *Cluster) sleepInterruptible(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		c.mu.RLock()
		leaving := c.flags&flagLeaving != 0
		c.mu.RUnlock()
		if leaving {
			return
		}
		time.Sleep(time.Second)
	}
}
