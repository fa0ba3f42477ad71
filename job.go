package cluster

import (
	"context"
	"fmt"

	"github.com/bbcarchdev/libcluster/internal/identity"
	"github.com/bbcarchdev/libcluster/internal/logging"
	"github.com/bbcarchdev/libcluster/types"
)

// Job tracks a unit of work within a cluster: an identifier, an optional
// parent, progress counters, and a status that moves WAIT → ACTIVE →
// COMPLETE or FAIL. Every change is logged through the cluster's logger as
// "[tag:progress+1/total] message"; when the registry backend can persist job
// records (the SQL backend), transitions are recorded there too.
//
// A Job is not safe for concurrent use; it tracks one goroutine's work.
type Job struct {
	cluster  *Cluster
	id       string
	parent   string
	name     string
	tag      string
	progress int
	total    int
}

// NewJob creates a job with a generated 32-character hex identifier.
func NewJob(c *Cluster) (*Job, error) {
	return NewJobID(c, "")
}

// NewJobID creates a job with a specific identifier: 2 to 32 alphanumeric
// characters. An empty id generates one.
func NewJobID(c *Cluster, id string) (*Job, error) {
	if id == "" {
		id = identity.NewToken()
	} else if !identity.ValidID(id) {
		return nil, fmt.Errorf("%w: job ID must be 2-32 alphanumeric characters", ErrInvalidArgument)
	}

	job := &Job{
		cluster: c,
		id:      id,
		tag:     id,
		total:   1,
	}

	if store := c.jobStore(); store != nil {
		ctx, cancel := c.opContext(c.cfg.OperationTimeout)
		err := store.CreateJob(ctx, id, "")
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to create job record: %w", err)
		}
	}

	job.Logf(types.PriorityInfo, "created job %s", id)

	return job, nil
}

// NewJobName creates a child job of parent with the given name.
func NewJobName(parent *Job, name string) (*Job, error) {
	job, err := NewJob(parent.cluster)
	if err != nil {
		return nil, err
	}
	if err := job.SetParentID(parent.id); err != nil {
		return nil, err
	}
	if err := job.SetName(name); err != nil {
		return nil, err
	}

	return job, nil
}

// ID returns the job identifier.
func (j *Job) ID() string {
	return j.id
}

// SetID changes the job identifier, if it is valid. The log tag follows it.
func (j *Job) SetID(id string) error {
	if !identity.ValidID(id) {
		return fmt.Errorf("%w: job ID must be 2-32 alphanumeric characters", ErrInvalidArgument)
	}
	j.Logf(types.PriorityInfo, "job %s has been given a new ID of %s", j.id, id)
	j.id = id
	j.tag = id

	return nil
}

// SetParent makes j a child of parent. A nil parent detaches the job. The
// two jobs must belong to the same cluster.
func (j *Job) SetParent(parent *Job) error {
	if parent == nil {
		return j.SetParentID("")
	}
	if j.cluster != parent.cluster {
		return fmt.Errorf("%w: parent job belongs to a different cluster", ErrInvalidArgument)
	}

	return j.SetParentID(parent.id)
}

// SetParentID sets the parent job by identifier. An empty identifier
// detaches the job.
func (j *Job) SetParentID(parent string) error {
	if parent == "" {
		j.Logf(types.PriorityInfo, "job no longer has a parent")
		j.parent = ""

		return j.record(func(ctx context.Context, store types.JobStore) error {
			return store.SetJobParent(ctx, j.id, "")
		})
	}
	if !identity.ValidID(parent) {
		return fmt.Errorf("%w: job ID must be 2-32 alphanumeric characters", ErrInvalidArgument)
	}
	j.parent = parent
	j.Logf(types.PriorityInfo, "job is now a child of %s", parent)

	return j.record(func(ctx context.Context, store types.JobStore) error {
		return store.SetJobParent(ctx, j.id, parent)
	})
}

// SetName names the job. A name is only meaningful within the context of a
// parent; a job without one gets ErrNotPermitted. The name is logged and is
// not recorded in the job store.
func (j *Job) SetName(name string) error {
	if j.parent == "" {
		return ErrNotPermitted
	}
	j.name = name
	j.Logf(types.PriorityInfo, "job name set to %q", name)

	return nil
}

// SetTag sets the tag used in this job's log messages.
func (j *Job) SetTag(tag string) {
	j.tag = tag
}

// SetTotal sets the number of work items the job comprises. Shrinking the
// total below the current progress resets progress to zero.
func (j *Job) SetTotal(total int) error {
	if j.total == total {
		return nil
	}
	j.total = total
	if total < j.progress {
		j.progress = 0
	}
	j.Logf(types.PriorityInfo, "job progress %d/%d", j.progress, j.total)

	return j.recordProgress()
}

// SetProgress sets the number of completed work items. Progress beyond the
// total grows the total to match.
func (j *Job) SetProgress(progress int) error {
	if progress == j.progress {
		return nil
	}
	j.progress = progress
	if progress > j.total {
		j.total = progress
	}
	j.Logf(types.PriorityInfo, "job progress %d/%d", j.progress, j.total)

	return j.recordProgress()
}

// Set logs a string property against the job. Properties are informational.
func (j *Job) Set(key, value string) {
	j.Logf(types.PriorityDebug, "job property %s => %s", key, value)
}

// Wait records the job as queued, awaiting processing.
func (j *Job) Wait() error {
	j.Logf(types.PriorityInfo, "--- job is now in state WAIT ---")

	return j.recordStatus(types.JobWait)
}

// Begin records the job as actively being processed.
func (j *Job) Begin() error {
	j.Logf(types.PriorityInfo, "+++ job is now in state ACTIVE +++")

	return j.recordStatus(types.JobActive)
}

// Complete records the job as successfully finished.
func (j *Job) Complete() error {
	j.Logf(types.PriorityInfo, "--- job is now in state COMPLETE ---")

	return j.recordStatus(types.JobComplete)
}

// Fail records the job as finished unsuccessfully.
func (j *Job) Fail() error {
	j.Logf(types.PriorityInfo, "*** job is now in state FAIL ***")

	return j.recordStatus(types.JobFail)
}

// Log emits a message related to the job through the cluster's logger,
// prefixed with the job tag and its position within the total.
func (j *Job) Log(priority types.Priority, message string) {
	j.cluster.mu.RLock()
	logger := j.cluster.logger
	j.cluster.mu.RUnlock()

	logging.LogPriority(logger, priority, fmt.Sprintf("[%s:%d/%d] %s", j.tag, j.progress+1, j.total, message))
}

// Logf is Log with printf-style formatting.
func (j *Job) Logf(priority types.Priority, format string, args ...any) {
	j.Log(priority, fmt.Sprintf(format, args...))
}

func (j *Job) recordStatus(status types.JobStatus) error {
	return j.record(func(ctx context.Context, store types.JobStore) error {
		return store.SetJobStatus(ctx, j.id, status)
	})
}

func (j *Job) recordProgress() error {
	return j.record(func(ctx context.Context, store types.JobStore) error {
		return store.SetJobProgress(ctx, j.id, j.progress, j.total)
	})
}

// record runs fn against the cluster's job store, when there is one.
func (j *Job) record(fn func(ctx context.Context, store types.JobStore) error) error {
	store := j.cluster.jobStore()
	if store == nil {
		return nil
	}

	ctx, cancel := j.cluster.opContext(j.cluster.cfg.OperationTimeout)
	defer cancel()

	return fn(ctx, store)
}

// jobStore returns the registry's job store, or nil when the backend has
// none or the cluster is not joined.
func (c *Cluster) jobStore() types.JobStore {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.jobs
}
