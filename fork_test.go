package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbcarchdev/libcluster/registry/memory"
	clustertest "github.com/bbcarchdev/libcluster/testing"
	"github.com/bbcarchdev/libcluster/types"
)

func hubMembers(t *testing.T, hub *memory.Hub) []types.Member {
	t.Helper()
	reg := hub.Open(types.Scope{Key: "spider", Environment: "production"})
	members, err := reg.Snapshot(context.Background())
	require.NoError(t, err)

	return members
}

func TestPrepareForkQuiescesLoops(t *testing.T) {
	hub := memory.NewHub()
	rec := &stateRecorder{}
	c := newMember(t, hub, "node1", 2, rec)
	require.NoError(t, c.Join())
	require.Len(t, hubMembers(t, hub), 1)

	c.PrepareFork()

	// Both loops have exited; the heartbeat retracted the entry on its way
	// out, and the application heard about the zeroed assignment.
	assert.Empty(t, hubMembers(t, hub))
	last, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, types.State{Index: -1, Workers: 2, Total: 0}, last)

	// The joined flag survives the quiesce for the after-fork hooks.
	assert.True(t, c.Joined())
}

func TestParentAfterForkResumesWithParentPolicy(t *testing.T) {
	hub := memory.NewHub()
	c, err := New("spider",
		WithInstanceID("node1"),
		WithWorkers(2),
		WithRegistry("memory://hub"),
		WithRegistryDialer(hub.Dial),
		WithForkPolicy(ForkParent),
		WithLogger(clustertest.NewTestLogger(t)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Leave() })

	require.NoError(t, c.Join())
	c.PrepareFork()
	require.Empty(t, hubMembers(t, hub))

	require.NoError(t, c.ParentAfterFork())

	assert.True(t, c.Joined())
	members := hubMembers(t, hub)
	require.Len(t, members, 1)
	assert.Equal(t, "node1", members[0].InstanceID)
	waitForState(t, c, types.State{Index: 0, Workers: 2, Total: 2})
}

func TestParentAfterForkLeavesWithChildPolicy(t *testing.T) {
	hub := memory.NewHub()
	c := newMember(t, hub, "node1", 2, nil) // default policy: ForkChild
	require.NoError(t, c.Join())
	c.PrepareFork()

	require.NoError(t, c.ParentAfterFork())

	assert.False(t, c.Joined())
	assert.Empty(t, hubMembers(t, hub))
}

func TestChildAfterForkResumesWithChildPolicy(t *testing.T) {
	hub := memory.NewHub()
	c := newMember(t, hub, "node1", 2, nil)
	require.NoError(t, c.Join())
	c.PrepareFork()

	require.NoError(t, c.ChildAfterFork())

	// The child silently took over the parent's identity.
	assert.True(t, c.Joined())
	assert.Equal(t, "node1", c.InstanceID())
	members := hubMembers(t, hub)
	require.Len(t, members, 1)
	assert.Equal(t, "node1", members[0].InstanceID)
}

func TestChildAfterForkFreshIdentityWithBothPolicy(t *testing.T) {
	hub := memory.NewHub()
	c, err := New("spider",
		WithInstanceID("node1"),
		WithWorkers(2),
		WithRegistry("memory://hub"),
		WithRegistryDialer(hub.Dial),
		WithForkPolicy(ForkBoth),
		WithLogger(clustertest.NewTestLogger(t)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Leave() })

	require.NoError(t, c.Join())
	c.PrepareFork()

	require.NoError(t, c.ChildAfterFork())

	// Dual membership: the child takes a fresh ID so it cannot collide
	// with the parent re-announcing as node1.
	assert.True(t, c.Joined())
	assert.NotEqual(t, "node1", c.InstanceID())
	assert.Len(t, c.InstanceID(), 32)
}

func TestChildAfterForkMarksUnjoinedWithParentPolicy(t *testing.T) {
	hub := memory.NewHub()
	scope := types.Scope{Key: "spider", Environment: "production"}

	c, err := New("spider",
		WithInstanceID("node1"),
		WithWorkers(2),
		WithRegistry("memory://hub"),
		WithRegistryDialer(hub.Dial),
		WithForkPolicy(ForkParent),
		WithLogger(clustertest.NewTestLogger(t)),
	)
	require.NoError(t, err)

	require.NoError(t, c.Join())
	c.PrepareFork()

	// Plant an entry to prove the child does not touch the registry.
	raw := hub.Open(scope)
	require.NoError(t, raw.Announce(context.Background(), "node1", 2, time.Hour, false))

	require.NoError(t, c.ChildAfterFork())

	assert.False(t, c.Joined())
	members := hubMembers(t, hub)
	require.Len(t, members, 1, "the child must leave the parent's entry alone")
}

func TestForkDanceParentAndChildScenario(t *testing.T) {
	// One process cannot actually fork in a test; drive both sides of the
	// dance against the same hub with two cluster objects sharing the
	// ForkBoth policy.
	hub := memory.NewHub()

	parent, err := New("spider",
		WithInstanceID("node1"),
		WithWorkers(2),
		WithRegistry("memory://hub"),
		WithRegistryDialer(hub.Dial),
		WithForkPolicy(ForkBoth),
		WithTTL(2*time.Second),
		WithRefresh(time.Second),
		WithLogger(clustertest.NewTestLogger(t)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = parent.Leave() })

	child, err := New("spider",
		WithInstanceID("node1"),
		WithWorkers(2),
		WithRegistry("memory://hub"),
		WithRegistryDialer(hub.Dial),
		WithForkPolicy(ForkBoth),
		WithTTL(2*time.Second),
		WithRefresh(time.Second),
		WithLogger(clustertest.NewTestLogger(t)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = child.Leave() })

	require.NoError(t, parent.Join())
	parent.PrepareFork()
	child.PrepareFork() // mirrors the parent's pre-fork quiesce state
	// The "fork" happened here; the child resumed from copied state, but
	// it was never joined in this process, so join it the same way the
	// rejoin path would.
	require.NoError(t, parent.ParentAfterFork())
	require.NoError(t, child.ResetInstanceID())
	require.NoError(t, child.Join())

	// The child's generated hex token sorts before "node1", so the parent
	// ends up with the higher base.
	waitForState(t, parent, types.State{Index: 2, Workers: 2, Total: 4})
	waitForState(t, child, types.State{Index: 0, Workers: 2, Total: 4})
	require.Len(t, hubMembers(t, hub), 2)
}
