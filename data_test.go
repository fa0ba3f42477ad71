package cluster

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbcarchdev/libcluster/registry/memory"
	clustertest "github.com/bbcarchdev/libcluster/testing"
)

// newSQLMember joins a member against a sqlite-backed registry, running the
// real scheme dispatch, schema migration and loops.
func newSQLMember(t *testing.T, instanceID string) *Cluster {
	t.Helper()

	endpoint := "sqlite3://" + filepath.Join(t.TempDir(), "registry.db")
	c, err := New("spider",
		WithInstanceID(instanceID),
		WithWorkers(2),
		WithRegistry(endpoint),
		WithLogger(clustertest.NewTestLogger(t)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Leave()
	})

	require.NoError(t, c.Join())

	return c
}

func TestDataAnnotationsOnSQLBackend(t *testing.T) {
	c := newSQLMember(t, "node1")

	// Missing names read as empty.
	value, err := c.Data("checkpoint")
	require.NoError(t, err)
	assert.Equal(t, "", value)

	require.NoError(t, c.SetData("checkpoint", "batch-41"))
	require.NoError(t, c.SetData("checkpoint", "batch-42"))
	value, err = c.Data("checkpoint")
	require.NoError(t, err)
	assert.Equal(t, "batch-42", value)

	require.NoError(t, c.SetNodeData("cursor", "1000"))
	value, err = c.NodeData("cursor")
	require.NoError(t, err)
	assert.Equal(t, "1000", value)

	// Node data does not leak into the cluster-wide namespace.
	value, err = c.Data("cursor")
	require.NoError(t, err)
	assert.Equal(t, "", value)
}

func TestJobRecordsOnSQLBackend(t *testing.T) {
	c := newSQLMember(t, "node1")

	job, err := NewJobID(c, "ingest01")
	require.NoError(t, err)

	store := c.jobStore()
	require.NotNil(t, store, "the SQL backend must expose a job store")

	status, err := store.JobStatus(context.Background(), "ingest01")
	require.NoError(t, err)
	assert.Equal(t, JobWait, status)

	require.NoError(t, job.Begin())
	status, err = store.JobStatus(context.Background(), "ingest01")
	require.NoError(t, err)
	assert.Equal(t, JobActive, status)
}

func TestDataAnnotationsUnsupportedOnKVBackend(t *testing.T) {
	hub := memory.NewHub()
	c := newMember(t, hub, "node1", 2, nil)
	require.NoError(t, c.Join())

	assert.ErrorIs(t, c.SetData("checkpoint", "batch-41"), ErrNotSupported)
	assert.ErrorIs(t, c.SetNodeData("cursor", "1000"), ErrNotSupported)

	_, err := c.Data("checkpoint")
	assert.ErrorIs(t, err, ErrNotSupported)
	_, err = c.NodeData("cursor")
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestDataAnnotationsUnsupportedWhenNotJoined(t *testing.T) {
	c, err := New("spider")
	require.NoError(t, err)

	assert.ErrorIs(t, c.SetData("checkpoint", "batch-41"), ErrNotSupported)

	_, err = c.Data("checkpoint")
	assert.ErrorIs(t, err, ErrNotSupported)
}
