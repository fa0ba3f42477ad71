package cluster

import (
	"context"
	"time"

	"github.com/bbcarchdev/libcluster/types"
)

const (
	// heartbeatTick is the granularity at which the heartbeat loop
	// re-checks the leaving flag while accumulating toward the refresh
	// period.
	heartbeatTick = time.Second

	// announceRetryDelay is how long the heartbeat loop waits after a
	// failed announce before retrying.
	announceRetryDelay = 5 * time.Second

	// watchErrorBackoff is how long the watch loop waits after a change
	// notification failure before waiting again.
	watchErrorBackoff = 30 * time.Second

	// migrationTimeout bounds the schema migration run during join.
	migrationTimeout = time.Minute
)

// heartbeatLoop periodically refreshes this member's registry entry until
// the leaving flag is raised, then removes it. Its only side effects are
// registry writes and, on exit, one delete. An announce in flight is never
// cancelled mid-call, so shutdown pays at most one registry round-trip.
func (c *Cluster) heartbeatLoop(reg types.Registry, done chan struct{}) {
	defer close(done)

	c.mu.RLock()
	refresh := int(c.cfg.Refresh / time.Second)
	instance := c.cfg.InstanceID
	workers := c.cfg.Workers
	ttl := c.cfg.TTL
	opTimeout := c.cfg.OperationTimeout
	c.logger.Debug("heartbeat loop starting", "ttl", ttl, "refresh", c.cfg.Refresh, "instance", instance)
	c.mu.RUnlock()

	count := 0
	// refreshOnly is cleared after a failed announce, so the retry re-creates
	// an entry that went missing or expired under the member.
	refreshOnly := true

	// The lock is not held at the start of each pass.
	for {
		c.mu.RLock()
		leaving := c.flags&flagLeaving != 0
		verbose := c.flags&flagVerbose != 0
		c.mu.RUnlock()

		if leaving {
			c.logger.Debug("leaving flag has been set, terminating heartbeat loop")

			break
		}

		if count < refresh {
			// Not yet at the refresh time; sleep-and-loop until it arrives.
			time.Sleep(heartbeatTick)
			count++

			continue
		}

		ctx, cancel := c.opContext(opTimeout)
		err := reg.Announce(ctx, instance, workers, ttl, refreshOnly)
		cancel()
		c.metrics.RecordHeartbeat(err)
		if err != nil {
			c.logger.Error("failed to update registry", "instance", instance, "error", err)
			// Short retry in case of transient problems; the refresh
			// counter is deliberately left alone.
			refreshOnly = false
			c.sleepInterruptible(announceRetryDelay)

			continue
		}
		count = 0
		refreshOnly = true
		if verbose {
			c.logger.Debug("updated registry", "instance", instance, "workers", workers)
		}
	}

	c.logger.Debug("heartbeat loop terminating", "instance", instance)
	ctx, cancel := c.opContext(opTimeout)
	if err := reg.Retract(ctx, instance); err != nil {
		c.logger.Warn("failed to remove registry entry", "instance", instance, "error", err)
	}
	cancel()

	c.mu.Lock()
	c.announced = false
	c.mu.Unlock()
}

// watchLoop blocks on registry change notification and re-balances whenever
// the registry scope plausibly changed, until the leaving flag is raised.
// The context is cancelled by Leave to unblock a long-poll in flight.
func (c *Cluster) watchLoop(ctx context.Context, reg types.Registry, done chan struct{}) {
	defer close(done)

	c.mu.RLock()
	c.logger.Debug("balancer loop started",
		"key", c.cfg.Key,
		"environment", c.cfg.Environment,
		"registry", c.cfg.Registry,
	)
	c.mu.RUnlock()

	// The lock is not held at the start of each pass.
	for {
		c.mu.RLock()
		leaving := c.flags&flagLeaving != 0
		verbose := c.flags&flagVerbose != 0
		c.mu.RUnlock()

		if leaving {
			c.logger.Debug("leaving flag has been set, terminating balancer loop")

			return
		}

		if verbose {
			c.logger.Debug("waiting for registry changes")
		}

		if err := reg.AwaitChange(ctx); err != nil {
			if ctx.Err() != nil {
				// Cancelled by Leave or PrepareFork; loop back to the
				// flag check.
				continue
			}
			c.logger.Warn("failed to receive changes from registry", "error", err)
			c.sleepInterruptible(watchErrorBackoff)

			continue
		}

		c.mu.Lock()
		if err := c.balanceLocked(); err != nil {
			c.logger.Error("failed to balance cluster in response to changes", "error", err)
		}
		c.mu.Unlock()
	}
}
