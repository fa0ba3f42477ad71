package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

// SetClusterData associates value with name for the whole cluster scope.
// Delete-then-insert inside a transaction, the same portable idiom as the
// heartbeat; the dialects disagree on upsert syntax.
func (s *Store) SetClusterData(ctx context.Context, name, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		s.rebind(`DELETE FROM "cluster_data" WHERE "key" = ? AND "env" = ? AND "name" = ?`),
		s.scope.Key, s.scope.Environment, name,
	); err != nil {
		return fmt.Errorf("failed to clear previous value: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO "cluster_data" ("key", "env", "name", "value") VALUES (?, ?, ?, ?)`),
		s.scope.Key, s.scope.Environment, name, value,
	); err != nil {
		return fmt.Errorf("failed to insert value: %w", err)
	}

	return tx.Commit()
}

// ClusterData returns the value associated with name for the cluster scope.
// A missing name reads as the empty string.
func (s *Store) ClusterData(ctx context.Context, name string) (string, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT "value" FROM "cluster_data" WHERE "key" = ? AND "env" = ? AND "name" = ?`),
		s.scope.Key, s.scope.Environment, name,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read cluster data: %w", err)
	}

	return value.String, nil
}

// SetNodeData associates value with name for this node only.
func (s *Store) SetNodeData(ctx context.Context, name, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		s.rebind(`DELETE FROM "cluster_node_data" WHERE "id" = ? AND "key" = ? AND "env" = ? AND "name" = ?`),
		s.scope.InstanceID, s.scope.Key, s.scope.Environment, name,
	); err != nil {
		return fmt.Errorf("failed to clear previous value: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO "cluster_node_data" ("id", "key", "env", "name", "value") VALUES (?, ?, ?, ?, ?)`),
		s.scope.InstanceID, s.scope.Key, s.scope.Environment, name, value,
	); err != nil {
		return fmt.Errorf("failed to insert value: %w", err)
	}

	return tx.Commit()
}

// NodeData returns the value associated with name for this node. A missing
// name reads as the empty string.
func (s *Store) NodeData(ctx context.Context, name string) (string, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT "value" FROM "cluster_node_data" WHERE "id" = ? AND "key" = ? AND "env" = ? AND "name" = ?`),
		s.scope.InstanceID, s.scope.Key, s.scope.Environment, name,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read node data: %w", err)
	}

	return value.String, nil
}
