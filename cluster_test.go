package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbcarchdev/libcluster/registry/memory"
	clustertest "github.com/bbcarchdev/libcluster/testing"
	"github.com/bbcarchdev/libcluster/types"
)

// stateRecorder collects every rebalance callback invocation.
type stateRecorder struct {
	mu     sync.Mutex
	states []types.State
}

func (r *stateRecorder) record(_ *Cluster, state types.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) all() []types.State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]types.State(nil), r.states...)
}

func (r *stateRecorder) count(want types.State) int {
	n := 0
	for _, s := range r.all() {
		if s == want {
			n++
		}
	}

	return n
}

func (r *stateRecorder) last() (types.State, bool) {
	states := r.all()
	if len(states) == 0 {
		return types.State{}, false
	}

	return states[len(states)-1], true
}

// newMember creates a cluster wired to the shared hub with fast timings.
func newMember(t *testing.T, hub *memory.Hub, instanceID string, workers int, rec *stateRecorder) *Cluster {
	t.Helper()

	opts := []Option{
		WithInstanceID(instanceID),
		WithWorkers(workers),
		WithRegistry("memory://hub"),
		WithRegistryDialer(hub.Dial),
		WithTTL(2 * time.Second),
		WithRefresh(time.Second),
		WithLogger(clustertest.NewTestLogger(t)),
	}
	if rec != nil {
		opts = append(opts, WithBalancer(rec.record))
	}

	c, err := New("spider", opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Leave()
	})

	return c
}

func waitForState(t *testing.T, c *Cluster, want types.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.State() == want
	}, 5*time.Second, 20*time.Millisecond, "member %s never observed %+v (last %+v)", c.InstanceID(), want, c.State())
}

func TestSingleMemberJoin(t *testing.T) {
	hub := memory.NewHub()
	rec := &stateRecorder{}
	c := newMember(t, hub, "node1", 2, rec)

	require.NoError(t, c.Join())

	last, ok := rec.last()
	require.True(t, ok, "join must fire the rebalance callback at least once")
	assert.Equal(t, types.State{Index: 0, Workers: 2, Total: 2}, last)
	assert.True(t, c.Joined())

	require.NoError(t, c.Leave())
	assert.False(t, c.Joined())

	// No registry entry survives the leave.
	reg := hub.Open(types.Scope{Key: "spider", Environment: "production"})
	members, err := reg.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestJoinIsIdempotent(t *testing.T) {
	hub := memory.NewHub()
	rec := &stateRecorder{}
	c := newMember(t, hub, "node1", 2, rec)

	require.NoError(t, c.Join())
	joined := len(rec.all())
	require.NoError(t, c.Join())
	assert.Equal(t, joined, len(rec.all()), "repeated join must not fire the callback again")
}

func TestLeaveWhenNotJoined(t *testing.T) {
	hub := memory.NewHub()
	c := newMember(t, hub, "node1", 1, nil)

	require.NoError(t, c.Leave())
}

func TestThreeNodeAssignment(t *testing.T) {
	hub := memory.NewHub()

	recs := map[string]*stateRecorder{
		"node1": {},
		"node2": {},
		"node3": {},
	}
	node1 := newMember(t, hub, "node1", 2, recs["node1"])
	node2 := newMember(t, hub, "node2", 1, recs["node2"])
	node3 := newMember(t, hub, "node3", 4, recs["node3"])

	require.NoError(t, node1.Join())
	require.NoError(t, node2.Join())
	require.NoError(t, node3.Join())

	// Each member converges on total 7 with bases in instance-ID order.
	waitForState(t, node1, types.State{Index: 0, Workers: 2, Total: 7})
	waitForState(t, node2, types.State{Index: 2, Workers: 1, Total: 7})
	waitForState(t, node3, types.State{Index: 3, Workers: 4, Total: 7})
}

func TestDeparture(t *testing.T) {
	hub := memory.NewHub()

	rec2 := &stateRecorder{}
	rec3 := &stateRecorder{}
	node1 := newMember(t, hub, "node1", 2, nil)
	node2 := newMember(t, hub, "node2", 1, rec2)
	node3 := newMember(t, hub, "node3", 4, rec3)

	require.NoError(t, node1.Join())
	require.NoError(t, node2.Join())
	require.NoError(t, node3.Join())
	waitForState(t, node2, types.State{Index: 2, Workers: 1, Total: 7})
	waitForState(t, node3, types.State{Index: 3, Workers: 4, Total: 7})

	require.NoError(t, node1.Leave())

	after2 := types.State{Index: 0, Workers: 1, Total: 5}
	after3 := types.State{Index: 1, Workers: 4, Total: 5}
	waitForState(t, node2, after2)
	waitForState(t, node3, after3)

	// The callback fires exactly once per distinct transition.
	assert.Equal(t, 1, rec2.count(after2))
	assert.Equal(t, 1, rec3.count(after3))
}

func TestPassiveObserver(t *testing.T) {
	hub := memory.NewHub()

	node1 := newMember(t, hub, "node1", 2, nil)
	node2 := newMember(t, hub, "node2", 1, nil)
	node3 := newMember(t, hub, "node3", 4, nil)
	require.NoError(t, node1.Join())
	require.NoError(t, node2.Join())
	require.NoError(t, node3.Join())

	rec := &stateRecorder{}
	observer := newMember(t, hub, "observer", 3, rec)
	require.NoError(t, observer.JoinPassive())

	waitForState(t, observer, types.State{Index: -1, Workers: 0, Total: 7, Passive: true})

	// The observer never appears in anyone's snapshot.
	reg := hub.Open(types.Scope{Key: "spider", Environment: "production"})
	members, err := reg.Snapshot(context.Background())
	require.NoError(t, err)
	for _, m := range members {
		assert.NotEqual(t, "observer", m.InstanceID)
	}
	assert.Len(t, members, 3)
}

func TestExpiry(t *testing.T) {
	hub := memory.NewHub()
	scope := types.Scope{Key: "spider", Environment: "production"}

	// A member that will be "killed": announced directly, never refreshed.
	raw := hub.Open(scope)
	require.NoError(t, raw.Announce(context.Background(), "node0", 3, time.Hour, false))

	rec := &stateRecorder{}
	c := newMember(t, hub, "node1", 2, rec)
	require.NoError(t, c.Join())
	waitForState(t, c, types.State{Index: 3, Workers: 2, Total: 5})

	// The kill: the entry expires instead of being retracted.
	require.True(t, hub.Expire(scope, "node0"))

	waitForState(t, c, types.State{Index: 0, Workers: 2, Total: 2})
}

func TestBaseIsPrefixSumOfPrecedingMembers(t *testing.T) {
	hub := memory.NewHub()
	scope := types.Scope{Key: "spider", Environment: "production"}

	raw := hub.Open(scope)
	require.NoError(t, raw.Announce(context.Background(), "aaa", 3, time.Hour, false))

	// Our member sorts after the other entry; its base is the prefix sum.
	c := newMember(t, hub, "bbb", 2, nil)
	require.NoError(t, c.Join())
	waitForState(t, c, types.State{Index: 3, Workers: 2, Total: 5})
}

func TestJoinFailurePropagatesAndUnwinds(t *testing.T) {
	dialErr := errors.New("connection refused")
	c, err := New("spider",
		WithRegistry("memory://hub"),
		WithRegistryDialer(func(string, types.Scope, time.Duration, types.Logger) (types.Registry, error) {
			return nil, dialErr
		}),
	)
	require.NoError(t, err)

	err = c.Join()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.False(t, c.Joined())

	// The cluster is back in the unjoined state and can be reconfigured.
	require.NoError(t, c.SetWorkers(2))
}

func TestSettersRefusedWhileJoined(t *testing.T) {
	hub := memory.NewHub()
	c := newMember(t, hub, "node1", 1, nil)
	require.NoError(t, c.Join())

	assert.ErrorIs(t, c.SetEnvironment("staging"), ErrNotPermitted)
	assert.ErrorIs(t, c.SetInstanceID("node9"), ErrNotPermitted)
	assert.ErrorIs(t, c.ResetInstanceID(), ErrNotPermitted)
	assert.ErrorIs(t, c.SetPartition("shard1"), ErrNotPermitted)
	assert.ErrorIs(t, c.SetWorkers(2), ErrNotPermitted)
	assert.ErrorIs(t, c.SetRegistry("http://registry:2379/"), ErrNotPermitted)
	assert.ErrorIs(t, c.SetForkPolicy(ForkBoth), ErrNotPermitted)
	assert.ErrorIs(t, c.SetBalancer(nil), ErrNotPermitted)
	assert.ErrorIs(t, c.SetStaticIndex(0), ErrNotPermitted)
	assert.ErrorIs(t, c.SetStaticTotal(1), ErrNotPermitted)

	// Logger and verbosity stay adjustable while joined.
	c.SetLogger(nil)
	c.SetVerbose(true)
	c.SetVerbose(false)
}

func TestSetterValidation(t *testing.T) {
	hub := memory.NewHub()
	c := newMember(t, hub, "node1", 1, nil)

	assert.ErrorIs(t, c.SetInstanceID("x"), ErrInvalidArgument)
	assert.ErrorIs(t, c.SetInstanceID("has-hyphen"), ErrInvalidArgument)
	assert.NoError(t, c.SetInstanceID("ab"))
	assert.NoError(t, c.SetInstanceID("node1"))

	assert.ErrorIs(t, c.SetEnvironment("not/valid"), ErrInvalidArgument)
	assert.NoError(t, c.SetEnvironment(""))
	assert.Equal(t, "production", c.Environment())

	assert.ErrorIs(t, c.SetWorkers(0), ErrInvalidArgument)
	assert.ErrorIs(t, c.SetWorkers(-1), ErrInvalidArgument)

	// Scheme validation applies when no dialer replaces the built-in
	// backend selection.
	plain, err := New("spider")
	require.NoError(t, err)
	assert.ErrorIs(t, plain.SetRegistry("ftp://registry/"), ErrInvalidArgument)
	assert.NoError(t, c.SetRegistry("postgres://registry/cluster"))
	assert.NoError(t, c.SetRegistry(""))
}

func TestUnsupportedSchemeAtConstruction(t *testing.T) {
	_, err := New("spider", WithRegistry("gopher://registry/"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestHeartbeatRecreatesExpiredEntry(t *testing.T) {
	hub := memory.NewHub()
	scope := types.Scope{Key: "spider", Environment: "production"}

	c := newMember(t, hub, "node1", 2, nil)
	require.NoError(t, c.Join())

	// Expire the entry under the member. The next refresh announce reports
	// failure and the heartbeat loop takes its retry path; the watcher
	// meanwhile observes the expiry.
	require.True(t, hub.Expire(scope, "node1"))

	// The member notices it is no longer part of the snapshot.
	waitForState(t, c, types.State{Index: -1, Workers: 2, Total: 0})

	// The retry, five seconds after the failed refresh, re-creates the entry
	// and the member is assigned again.
	require.Eventually(t, func() bool {
		return c.State() == types.State{Index: 0, Workers: 2, Total: 2}
	}, 10*time.Second, 20*time.Millisecond)
}

func TestStateBeforeJoin(t *testing.T) {
	hub := memory.NewHub()
	c := newMember(t, hub, "node1", 2, nil)

	assert.Equal(t, types.State{Index: -1, Workers: 2, Total: 0}, c.State())
	assert.False(t, c.Joined())
	assert.Equal(t, "spider", c.Key())
	assert.Equal(t, "production", c.Environment())
	assert.Equal(t, "node1", c.InstanceID())
	assert.Equal(t, "", c.Partition())
}

func TestGeneratedInstanceID(t *testing.T) {
	c, err := New("spider")
	require.NoError(t, err)
	assert.Len(t, c.InstanceID(), 32)
}

func TestPartitionScoping(t *testing.T) {
	hub := memory.NewHub()

	a, err := New("spider",
		WithInstanceID("node1"),
		WithWorkers(2),
		WithPartition("shard1"),
		WithRegistry("memory://hub"),
		WithRegistryDialer(hub.Dial),
		WithLogger(clustertest.NewTestLogger(t)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Leave() })

	b, err := New("spider",
		WithInstanceID("node2"),
		WithWorkers(4),
		WithPartition("shard2"),
		WithRegistry("memory://hub"),
		WithRegistryDialer(hub.Dial),
		WithLogger(clustertest.NewTestLogger(t)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Leave() })

	require.NoError(t, a.Join())
	require.NoError(t, b.Join())

	// Different partitions never see each other.
	waitForState(t, a, types.State{Index: 0, Workers: 2, Total: 2})
	waitForState(t, b, types.State{Index: 0, Workers: 4, Total: 4})
}
