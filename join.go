package cluster

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bbcarchdev/libcluster/registry/etcdkv"
	"github.com/bbcarchdev/libcluster/registry/natskv"
	"github.com/bbcarchdev/libcluster/registry/sqlstore"
	"github.com/bbcarchdev/libcluster/types"
)

// Join joins the cluster using the current configuration. On success the
// rebalance callback has been invoked at least once and the background
// heartbeat and watch/balance loops are running. Joining an already joined
// cluster is a no-op returning nil.
func (c *Cluster) Join() error {
	return c.join(false)
}

// JoinPassive joins the cluster as an observer: the member sees the
// cluster-wide total and peer changes, contributes zero workers, never
// appears in other members' snapshots, and always has index -1.
func (c *Cluster) JoinPassive() error {
	return c.join(true)
}

func (c *Cluster) join(passive bool) error {
	c.mu.RLock()
	if c.flags&flagJoined != 0 {
		c.logger.Debug("ignoring attempt to join a cluster which has already been joined", "key", c.cfg.Key)
		c.mu.RUnlock()

		return nil
	}
	endpoint := c.cfg.Registry
	c.mu.RUnlock()

	if endpoint == "" {
		if passive {
			return fmt.Errorf("%w: a static cluster cannot be joined passively", ErrInvalidArgument)
		}

		return c.joinStatic()
	}

	return c.joinRegistry(passive)
}

// joinRegistry opens the two registry handles, runs schema migration where
// the backend needs one, performs the initial announce and balance, and
// spawns the background loops. Any failure unwinds through Leave, which
// tolerates partially initialized state.
func (c *Cluster) joinRegistry(passive bool) error {
	c.mu.Lock()
	c.index = -1
	c.total = 0
	if passive {
		c.flags |= flagPassive
	} else {
		c.flags &^= flagPassive
	}

	scope := types.Scope{
		Key:         c.cfg.Key,
		Environment: c.cfg.Environment,
		Partition:   c.cfg.Partition,
		InstanceID:  c.cfg.InstanceID,
	}

	hbReg, err := c.dialRegistry(scope)
	if err != nil {
		c.logger.Error("cannot connect to registry", "registry", c.cfg.Registry, "error", err)
		c.mu.Unlock()
		_ = c.Leave()

		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	c.heartbeatReg = hbReg

	if migrator, ok := hbReg.(types.SchemaMigrator); ok {
		ctx, cancel := c.opContext(migrationTimeout)
		err = migrator.MigrateSchema(ctx)
		cancel()
		if err != nil {
			c.logger.Error("schema migration failed", "registry", c.cfg.Registry, "error", err)
			c.mu.Unlock()
			_ = c.Leave()

			return fmt.Errorf("%w: schema migration: %v", ErrBackendUnavailable, err)
		}
	}

	balReg, err := c.dialRegistry(scope)
	if err != nil {
		c.logger.Error("cannot establish balancer connection to registry", "registry", c.cfg.Registry, "error", err)
		c.mu.Unlock()
		_ = c.Leave()

		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	c.balanceReg = balReg

	if store, ok := hbReg.(types.JobStore); ok {
		c.jobs = store
	}
	if store, ok := hbReg.(types.DataStore); ok {
		c.data = store
	}

	if err := c.startLocked(); err != nil {
		c.mu.Unlock()
		_ = c.Leave()

		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	c.flags |= flagJoined
	c.mu.Unlock()

	return nil
}

// startLocked performs the synchronous announce and balance and spawns the
// background loops. Used by joinRegistry and by the post-fork rejoin paths.
// The write lock is held on entry and on return.
func (c *Cluster) startLocked() error {
	if c.cfg.Registry == "" {
		// Static cluster: no loops to respawn, just restore the supplied
		// topology and inform the application.
		c.index = c.cfg.StaticIndex
		c.total = c.cfg.StaticTotal
		c.mu.Unlock()
		c.rebalanced()
		c.mu.Lock()

		return nil
	}

	passive := c.flags&flagPassive != 0

	if !passive {
		ctx, cancel := c.opContext(c.cfg.OperationTimeout)
		err := c.heartbeatReg.Announce(ctx, c.cfg.InstanceID, c.cfg.Workers, c.cfg.TTL, false)
		cancel()
		if err != nil {
			c.logger.Error("failed to perform initial announce", "error", err)

			return fmt.Errorf("initial announce: %w", err)
		}
		c.announced = true
	}

	if err := c.balanceLocked(); err != nil {
		c.logger.Error("failed to perform initial balance", "error", err)

		return fmt.Errorf("initial balance: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	c.watchCancel = cancel

	if !passive {
		c.hbDone = make(chan struct{})
		go c.heartbeatLoop(c.heartbeatReg, c.hbDone)
	}
	c.watchDone = make(chan struct{})
	go c.watchLoop(watchCtx, c.balanceReg, c.watchDone)

	return nil
}

// Leave leaves the cluster: the background loops terminate, the member's
// registry entry is removed, and the registry connections are closed.
// Leaving an unjoined cluster is a no-op returning nil. Blocks for at most
// one second plus one in-flight registry call.
func (c *Cluster) Leave() error {
	// A write lock prevents a read-lock/write-lock race with the loops.
	c.mu.Lock()
	if c.flags&flagJoined != 0 {
		c.flags |= flagLeaving
		hbDone, watchDone := c.hbDone, c.watchDone
		cancel := c.watchCancel
		// Unlock to allow the loops to read the flag.
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if hbDone != nil {
			<-hbDone
		}
		if watchDone != nil {
			<-watchDone
		}
		// Re-acquire so the unwinding can safely complete.
		c.mu.Lock()
	}

	// The heartbeat loop retracts on its way out. For passive members and
	// for leaves where the loop never ran, retract synchronously.
	if c.heartbeatReg != nil && c.hbDone == nil && (c.announced || c.flags&flagPassive != 0) {
		ctx, cancel := c.opContext(c.cfg.OperationTimeout)
		if err := c.heartbeatReg.Retract(ctx, c.cfg.InstanceID); err != nil {
			c.logger.Warn("failed to remove registry entry", "instance", c.cfg.InstanceID, "error", err)
		}
		cancel()
		c.announced = false
	}

	c.flags &^= flagJoined | flagLeaving | flagPassive
	c.hbDone = nil
	c.watchDone = nil
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
	c.closeRegistriesLocked()
	c.index = -1
	c.total = 0
	c.mu.Unlock()

	return nil
}

// closeRegistriesLocked closes and clears both registry handles.
func (c *Cluster) closeRegistriesLocked() {
	if c.heartbeatReg != nil {
		if err := c.heartbeatReg.Close(); err != nil {
			c.logger.Warn("failed to close heartbeat registry handle", "error", err)
		}
		c.heartbeatReg = nil
	}
	if c.balanceReg != nil {
		if err := c.balanceReg.Close(); err != nil {
			c.logger.Warn("failed to close balancer registry handle", "error", err)
		}
		c.balanceReg = nil
	}
	c.jobs = nil
	c.data = nil
}

// dialRegistry opens one registry handle for the configured endpoint.
func (c *Cluster) dialRegistry(scope types.Scope) (types.Registry, error) {
	if c.dialer != nil {
		return c.dialer(c.cfg.Registry, scope, c.cfg.TTL, c.logger)
	}

	u, err := url.Parse(c.cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot parse registry URI: %v", ErrInvalidArgument, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return etcdkv.Dial(c.cfg.Registry, scope, c.logger)
	case "nats":
		return natskv.Dial(c.cfg.Registry, scope, c.cfg.TTL, c.logger)
	case "mysql", "postgres", "postgresql", "sqlite", "sqlite3":
		return sqlstore.Open(c.cfg.Registry, scope, c.logger)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q in registry URI", ErrInvalidArgument, u.Scheme)
	}
}

// checkRegistryScheme validates an endpoint URI without connecting.
func checkRegistryScheme(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("%w: cannot parse registry URI: %v", ErrInvalidArgument, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https", "nats", "mysql", "postgres", "postgresql", "sqlite", "sqlite3":
		return nil
	default:
		return fmt.Errorf("%w: unsupported scheme %q in registry URI", ErrInvalidArgument, u.Scheme)
	}
}
