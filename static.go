package cluster

import "fmt"

// SetStaticIndex sets this member's base index for static mode, where no
// registry coordinates the cluster and the application supplies the
// topology. Returns ErrNotPermitted while joined.
func (c *Cluster) SetStaticIndex(index int) error {
	if index < 0 {
		return fmt.Errorf("%w: instance index cannot be a negative number", ErrInvalidArgument)
	}

	return c.setConfig(func(cfg *Config) {
		cfg.StaticIndex = index
		c.debugLocked("static instance index set", "index", index)
	})
}

// SetStaticTotal sets the cluster-wide worker total for static mode.
// Returns ErrNotPermitted while joined.
func (c *Cluster) SetStaticTotal(total int) error {
	if total < 1 {
		return fmt.Errorf("%w: total worker count must be a positive integer", ErrInvalidArgument)
	}

	return c.setConfig(func(cfg *Config) {
		cfg.StaticTotal = total
		c.debugLocked("static total worker count set", "total", total)
	})
}

// joinStatic joins a static cluster. This requires no coordination with
// other nodes: the supplied parameters are checked for consistency, the
// joined flag is set, and the balancer callback is invoked once to inform
// the application of the topology.
func (c *Cluster) joinStatic() error {
	c.mu.Lock()
	if c.cfg.StaticTotal == 0 {
		c.cfg.StaticTotal = 1
	}
	if c.cfg.StaticIndex >= c.cfg.StaticTotal {
		c.logger.Error("cannot join static cluster: the instance index is not less than the total worker count",
			"index", c.cfg.StaticIndex,
			"total", c.cfg.StaticTotal,
		)
		c.mu.Unlock()

		return fmt.Errorf("%w: static index %d is not less than total %d",
			ErrInvalidArgument, c.cfg.StaticIndex, c.cfg.StaticTotal)
	}
	if c.cfg.StaticIndex+c.cfg.Workers > c.cfg.StaticTotal {
		c.logger.Error("cannot join static cluster: the highest worker index exceeds the total worker count",
			"index", c.cfg.StaticIndex,
			"workers", c.cfg.Workers,
			"total", c.cfg.StaticTotal,
		)
		c.mu.Unlock()

		return fmt.Errorf("%w: static index %d plus %d workers exceeds total %d",
			ErrInvalidArgument, c.cfg.StaticIndex, c.cfg.Workers, c.cfg.StaticTotal)
	}

	old := c.stateLocked()
	c.index = c.cfg.StaticIndex
	c.total = c.cfg.StaticTotal
	current := c.stateLocked()
	c.flags |= flagJoined
	c.logger.Debug("joined static cluster", "index", c.index, "total", c.total)
	c.mu.Unlock()

	c.metrics.RecordRebalance(old, current)
	c.rebalanced()

	return nil
}
