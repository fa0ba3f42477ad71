package types

import "context"

// JobStatus is the lifecycle state of a tracked job.
type JobStatus string

// Job statuses. Jobs start in WAIT, move to ACTIVE when begun, and finish in
// either COMPLETE or FAIL.
const (
	JobWait     JobStatus = "WAIT"
	JobActive   JobStatus = "ACTIVE"
	JobComplete JobStatus = "COMPLETE"
	JobFail     JobStatus = "FAIL"
)

// JobStore persists job records. Implemented by registries whose backing
// store can hold per-job rows; backends without one keep jobs in-process.
type JobStore interface {
	// CreateJob inserts a job record in WAIT status. parent may be empty.
	CreateJob(ctx context.Context, id, parent string) error

	// SetJobStatus records a status transition for the job.
	SetJobStatus(ctx context.Context, id string, status JobStatus) error

	// SetJobProgress records the job's progress and total counters.
	SetJobProgress(ctx context.Context, id string, progress, total int) error

	// SetJobParent re-parents the job. An empty parent detaches it.
	SetJobParent(ctx context.Context, id, parent string) error

	// JobStatus returns the recorded status of the job.
	JobStatus(ctx context.Context, id string) (JobStatus, error)
}

// DataStore holds application key-value annotations scoped to the cluster
// and to the individual node. Implemented by registries whose backing store
// can hold them.
type DataStore interface {
	// SetClusterData associates value with name for the whole cluster scope.
	SetClusterData(ctx context.Context, name, value string) error

	// ClusterData returns the value associated with name for the cluster.
	ClusterData(ctx context.Context, name string) (string, error)

	// SetNodeData associates value with name for this node only.
	SetNodeData(ctx context.Context, name, value string) error

	// NodeData returns the value associated with name for this node.
	NodeData(ctx context.Context, name string) (string, error)
}
