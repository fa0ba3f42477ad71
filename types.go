package cluster

import "github.com/bbcarchdev/libcluster/types"

// Re-export the commonly used definitions from the types subpackage.
//
// The types subpackage exists so registry backends and internal packages
// can share these contracts without importing the root package; the aliases
// below keep application code to a single import.
type (
	State     = types.State
	Member    = types.Member
	Scope     = types.Scope
	Registry  = types.Registry
	Logger    = types.Logger
	Priority  = types.Priority
	JobStatus = types.JobStatus
)

// Re-export the syslog priorities used by the job API.
const (
	PriorityEmerg   = types.PriorityEmerg
	PriorityAlert   = types.PriorityAlert
	PriorityCrit    = types.PriorityCrit
	PriorityErr     = types.PriorityErr
	PriorityWarning = types.PriorityWarning
	PriorityNotice  = types.PriorityNotice
	PriorityInfo    = types.PriorityInfo
	PriorityDebug   = types.PriorityDebug
)

// Re-export the job statuses.
const (
	JobWait     = types.JobWait
	JobActive   = types.JobActive
	JobComplete = types.JobComplete
	JobFail     = types.JobFail
)
