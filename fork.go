package cluster

import (
	"sync"

	"github.com/bbcarchdev/libcluster/internal/identity"
)

// ForkPolicy declares which side of a process fork resumes cluster
// membership after the fork dance (PrepareFork, then ParentAfterFork and
// ChildAfterFork on the respective sides).
type ForkPolicy int

const (
	// ForkChild resumes membership in the child only. This is the default:
	// a forked worker process that continues the parent's role silently
	// takes over the parent's registry entry.
	ForkChild ForkPolicy = 1 << iota

	// ForkParent resumes membership in the parent only.
	ForkParent
)

// ForkBoth resumes membership on both sides. The child generates a fresh
// instance ID so the two processes do not collide; this changes the
// cluster total, which is why dual membership is opt-in.
const ForkBoth = ForkChild | ForkParent

// PrepareFork quiesces the cluster ahead of a process fork: both background
// loops are signalled and waited out, the member's assignment is zeroed and
// the rebalance callback told so, and the joined flag is preserved for the
// after-fork hooks to act on. Call it in the parent immediately before
// forking; follow with ParentAfterFork and ChildAfterFork.
func (c *Cluster) PrepareFork() {
	c.mu.Lock()
	if c.flags&flagVerbose != 0 {
		c.logger.Info("preparing for fork")
	}
	saved := c.flags
	c.flags |= flagLeaving
	hbDone, watchDone := c.hbDone, c.watchDone
	cancel := c.watchCancel
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

	c.mu.Lock()
	c.hbDone = nil
	c.watchDone = nil
	c.watchCancel = nil
	c.index = -1
	c.total = 0
	c.mu.Unlock()

	c.rebalanced()

	c.mu.Lock()
	if c.flags&flagVerbose != 0 {
		c.logger.Info("background loops terminated ahead of fork")
	}
	// Restore the pre-fork flags: the leaving bit is cleared, the joined
	// bit keeps whatever value it had.
	c.flags = saved
	c.mu.Unlock()
}

// ParentAfterFork resumes or abandons membership in the parent process
// after a fork prepared with PrepareFork. When the fork policy includes the
// parent and the cluster was joined, the member re-announces, re-balances
// and respawns its loops; otherwise the parent is treated as having left.
func (c *Cluster) ParentAfterFork() error {
	c.mu.Lock()
	if c.cfg.ForkPolicy&ForkParent != 0 && c.flags&flagJoined != 0 {
		c.logger.Info("resuming cluster membership in parent process")
		err := c.startLocked()
		c.mu.Unlock()
		if err != nil {
			_ = c.Leave()

			return err
		}

		return nil
	}
	c.mu.Unlock()

	return c.Leave()
}

// ChildAfterFork resumes or abandons membership in the child process after
// a fork prepared with PrepareFork. The lock's state across a fork is
// undefined and is re-initialized first. When the fork policy includes the
// child and the cluster was joined, the member re-announces, re-balances
// and respawns its loops; with ForkBoth a fresh instance ID is generated
// first so parent and child do not collide. When the policy excludes the
// child, the cluster is marked unjoined without touching the registry.
func (c *Cluster) ChildAfterFork() error {
	c.mu = &sync.RWMutex{}

	c.mu.Lock()
	if c.cfg.ForkPolicy&ForkChild == 0 {
		// The parent keeps the registry entry; just forget it here. The
		// handles are dropped unclosed because the descriptors are shared
		// with the parent.
		c.flags &^= flagJoined | flagLeaving | flagPassive
		c.heartbeatReg = nil
		c.balanceReg = nil
		c.jobs = nil
		c.data = nil
		c.announced = false
		c.mu.Unlock()

		return nil
	}

	if c.cfg.ForkPolicy&ForkParent != 0 {
		// Re-joining in both the parent and the child: the child takes a
		// new instance identity.
		c.cfg.InstanceID = identity.NewToken()
		c.logger.Info("generated fresh instance ID for child process", "instance", c.cfg.InstanceID)
	}

	if c.flags&flagJoined == 0 {
		c.mu.Unlock()

		return nil
	}

	c.logger.Info("resuming cluster membership in child process")
	err := c.startLocked()
	c.mu.Unlock()
	if err != nil {
		_ = c.Leave()

		return err
	}

	return nil
}
