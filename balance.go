package cluster

// balanceLocked reads a snapshot from the registry, computes this member's
// base index and the cluster-wide total, and, if either differs from the
// stored state, commits both and fires the rebalance callback exactly once.
//
// The write lock is held on entry and on return; it is released around the
// callback so application code cannot deadlock the loops.
func (c *Cluster) balanceLocked() error {
	verbose := c.flags&flagVerbose != 0
	passive := c.flags&flagPassive != 0

	if verbose {
		c.logger.Debug("reading state from registry",
			"key", c.cfg.Key,
			"environment", c.cfg.Environment,
		)
	}

	ctx, cancel := c.opContext(c.cfg.OperationTimeout)
	snapshot, err := c.balanceReg.Snapshot(ctx)
	cancel()
	if err != nil {
		return err
	}
	c.metrics.RecordSnapshot(len(snapshot))

	// Our base is the prefix sum of workers of all members sorting before
	// us; the total is the sum over the whole snapshot. The adapter
	// guarantees ascending instance-ID order and expiry filtering.
	// Duplicate IDs must not occur, but if one does, the first occurrence
	// keeps the base.
	total := 0
	base := -1
	for _, m := range snapshot {
		if m.InstanceID == c.cfg.InstanceID && !passive && base == -1 {
			base = total
			if verbose {
				c.logger.Debug("registry member", "instance", m.InstanceID, "offset", total, "self", true)
			}
		} else if verbose {
			c.logger.Debug("registry member", "instance", m.InstanceID, "offset", total, "self", false)
		}
		total += m.Workers
	}

	if total == c.total && base == c.index {
		return nil
	}

	if base == -1 {
		c.logger.Info("this instance is no longer a member of the cluster",
			"key", c.cfg.Key,
			"environment", c.cfg.Environment,
			"partition", c.cfg.Partition,
		)
	} else {
		c.logger.Info("cluster has re-balanced",
			"key", c.cfg.Key,
			"environment", c.cfg.Environment,
			"base", base,
			"previousBase", c.index,
			"total", total,
			"previousTotal", c.total,
		)
	}

	old := c.stateLocked()
	c.index = base
	c.total = total
	current := c.stateLocked()

	c.mu.Unlock()
	c.metrics.RecordRebalance(old, current)
	c.rebalanced()
	// Re-acquire the lock to restore state for the caller.
	c.mu.Lock()

	return nil
}

// rebalanced informs the application that the cluster has been re-balanced.
// The caller must not hold the lock.
func (c *Cluster) rebalanced() {
	c.mu.RLock()
	state := c.stateLocked()
	balancer := c.balancer
	c.logger.Debug("re-balanced",
		"index", state.Index,
		"workers", state.Workers,
		"total", state.Total,
	)
	c.mu.RUnlock()

	if balancer == nil {
		return
	}
	balancer(c, state)
}
