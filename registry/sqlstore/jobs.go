package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bbcarchdev/libcluster/types"
)

// CreateJob inserts a job record in WAIT status, attributed to this node.
func (s *Store) CreateJob(ctx context.Context, id, parent string) error {
	now := time.Now().UTC().Format(timeFormat)

	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO "cluster_job" ("id", "key", "env", "parent", "status", "created", "updated", "node", "progress", "total") VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 1)`),
		id, s.scope.Key, s.scope.Environment, nullable(parent), string(types.JobWait), now, now, nullable(s.scope.InstanceID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job record: %w", err)
	}

	return nil
}

// SetJobStatus records a status transition for the job.
func (s *Store) SetJobStatus(ctx context.Context, id string, status types.JobStatus) error {
	return s.updateJob(ctx,
		`UPDATE "cluster_job" SET "status" = ?, "updated" = ? WHERE "id" = ? AND "key" = ? AND "env" = ?`,
		string(status), time.Now().UTC().Format(timeFormat), id, s.scope.Key, s.scope.Environment,
	)
}

// SetJobProgress records the job's progress and total counters.
func (s *Store) SetJobProgress(ctx context.Context, id string, progress, total int) error {
	return s.updateJob(ctx,
		`UPDATE "cluster_job" SET "progress" = ?, "total" = ?, "updated" = ? WHERE "id" = ? AND "key" = ? AND "env" = ?`,
		progress, total, time.Now().UTC().Format(timeFormat), id, s.scope.Key, s.scope.Environment,
	)
}

// SetJobParent re-parents the job. An empty parent detaches it.
func (s *Store) SetJobParent(ctx context.Context, id, parent string) error {
	return s.updateJob(ctx,
		`UPDATE "cluster_job" SET "parent" = ?, "updated" = ? WHERE "id" = ? AND "key" = ? AND "env" = ?`,
		nullable(parent), time.Now().UTC().Format(timeFormat), id, s.scope.Key, s.scope.Environment,
	)
}

// JobStatus returns the recorded status of the job.
func (s *Store) JobStatus(ctx context.Context, id string) (types.JobStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT "status" FROM "cluster_job" WHERE "id" = ? AND "key" = ? AND "env" = ?`),
		id, s.scope.Key, s.scope.Environment,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("no job record with ID %q", id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read job status: %w", err)
	}

	return types.JobStatus(status), nil
}

func (s *Store) updateJob(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update job record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no job record to update")
	}

	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}

	return s
}
