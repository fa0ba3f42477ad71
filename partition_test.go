package cluster

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionOf(t *testing.T) {
	assert.Equal(t, -1, PartitionOf([]byte("anything"), 0))
	assert.Equal(t, -1, PartitionOf([]byte("anything"), -3))

	// Deterministic and within range.
	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("item-%d", i))
		p := PartitionOf(key, 7)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 7)
		assert.Equal(t, p, PartitionOf(key, 7))
	}
}

func TestOwns(t *testing.T) {
	c, err := New("spider", WithWorkers(2))
	require.NoError(t, err)
	require.NoError(t, c.SetStaticIndex(3))
	require.NoError(t, c.SetStaticTotal(10))

	// Unjoined members own nothing.
	assert.False(t, c.Owns([]byte("item-1")))

	require.NoError(t, c.Join())
	t.Cleanup(func() { _ = c.Leave() })

	owned := 0
	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("item-%d", i))
		p := PartitionOf(key, 10)
		want := p >= 3 && p < 5
		assert.Equal(t, want, c.Owns(key), "key %s partition %d", key, p)
		if want {
			owned++
		}
	}

	// Roughly a fifth of the keyspace lands on this member's two slots.
	assert.Greater(t, owned, 0)
	assert.Less(t, owned, 1000)
}
