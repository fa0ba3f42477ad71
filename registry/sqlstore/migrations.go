package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaVersion is the version this build of the library requires.
const schemaVersion = 8

// schemaIdent identifies this library's rows in the shared version table.
const schemaIdent = "com.github.bbcarchdev.libcluster"

// MigrateSchema brings the database schema up to the current version,
// applying each pending step in its own transaction and recording the new
// version as it goes. Safe to run on every join; a database already at the
// current version is untouched.
//
// The version history is strictly monotonic: 1 creates the base
// cluster_node table, 2-4 add its indexes, 5 adds the partition column,
// 6-7 add the cluster_data and cluster_node_data annotation tables, and
// 8 adds the cluster_job table.
func (s *Store) MigrateSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS "cluster_schema" ("ident" VARCHAR(64) NOT NULL, "version" INT NOT NULL, PRIMARY KEY ("ident"))`,
	); err != nil {
		return fmt.Errorf("failed to create schema version table: %w", err)
	}

	version, err := s.currentVersion(ctx)
	if err != nil {
		return err
	}

	for next := version + 1; next <= schemaVersion; next++ {
		s.logger.Info("updating database schema", "version", next)
		if err := s.applyStep(ctx, next); err != nil {
			return fmt.Errorf("failed to update schema to version %d: %w", next, err)
		}
	}

	return nil
}

func (s *Store) currentVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT "version" FROM "cluster_schema" WHERE "ident" = ?`), schemaIdent,
	).Scan(&version)
	if err == sql.ErrNoRows {
		_, err = s.db.ExecContext(ctx,
			s.rebind(`INSERT INTO "cluster_schema" ("ident", "version") VALUES (?, 0)`), schemaIdent,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to initialize schema version: %w", err)
		}

		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	return version, nil
}

// applyStep runs the DDL for one version step and records it, inside a
// single transaction.
func (s *Store) applyStep(ctx context.Context, version int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, ddl := range s.stepDDL(version) {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		s.rebind(`UPDATE "cluster_schema" SET "version" = ? WHERE "ident" = ?`), version, schemaIdent,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// timeType returns the column type for timestamps. MySQL's TIMESTAMP
// carries zero-value and auto-update baggage, so it gets DATETIME; the
// other dialects take TIMESTAMP.
func (s *Store) timeType() string {
	if s.driver == "mysql" {
		return "DATETIME"
	}

	return "TIMESTAMP"
}

func (s *Store) stepDDL(version int) []string {
	timetype := s.timeType()

	switch version {
	case 1:
		create := `CREATE TABLE "cluster_node" (` +
			`"id" VARCHAR(32) NOT NULL, ` +
			`"key" VARCHAR(32) NOT NULL, ` +
			`"env" VARCHAR(32) NOT NULL, ` +
			`"workers" INT NOT NULL DEFAULT 0, ` +
			`"updated" ` + timetype + ` NOT NULL, ` +
			`"expires" ` + timetype + ` NOT NULL, ` +
			`PRIMARY KEY ("id", "key", "env")` +
			`)`
		if s.driver == "mysql" {
			create += ` ENGINE=InnoDB DEFAULT CHARSET=utf8 DEFAULT COLLATE=utf8_unicode_ci`
		}

		return []string{
			`DROP TABLE IF EXISTS "cluster_node"`,
			create,
		}

	case 2:
		return []string{`CREATE INDEX "cluster_node_key_env" ON "cluster_node" ("key", "env")`}

	case 3:
		return []string{`CREATE INDEX "cluster_node_expires" ON "cluster_node" ("expires")`}

	case 4:
		return []string{`CREATE INDEX "cluster_node_updated" ON "cluster_node" ("updated")`}

	case 5:
		return []string{
			`ALTER TABLE "cluster_node" ADD "partition" VARCHAR(32) DEFAULT NULL`,
			`CREATE INDEX "cluster_node_partition" ON "cluster_node" ("partition")`,
		}

	case 6:
		// cluster_data: application key-value pairs scoped to a cluster.
		return []string{
			`CREATE TABLE "cluster_data" (` +
				`"key" VARCHAR(32) NOT NULL, ` +
				`"env" VARCHAR(32) NOT NULL, ` +
				`"name" VARCHAR(32) NOT NULL, ` +
				`"value" TEXT DEFAULT NULL, ` +
				`PRIMARY KEY ("key", "env", "name")` +
				`)`,
			`CREATE INDEX "cluster_data_key_env" ON "cluster_data" ("key", "env")`,
		}

	case 7:
		// cluster_node_data: application key-value pairs scoped to a node.
		return []string{
			`CREATE TABLE "cluster_node_data" (` +
				`"id" VARCHAR(32) NOT NULL, ` +
				`"key" VARCHAR(32) NOT NULL, ` +
				`"env" VARCHAR(32) NOT NULL, ` +
				`"name" VARCHAR(32) NOT NULL, ` +
				`"value" TEXT DEFAULT NULL, ` +
				`PRIMARY KEY ("id", "key", "env", "name")` +
				`)`,
			`CREATE INDEX "cluster_node_data_id_key_env" ON "cluster_node_data" ("id", "key", "env")`,
			`CREATE INDEX "cluster_node_data_key_env" ON "cluster_node_data" ("key", "env")`,
		}

	case 8:
		return []string{
			`CREATE TABLE "cluster_job" (` +
				`"id" VARCHAR(32) NOT NULL, ` +
				`"key" VARCHAR(32) NOT NULL, ` +
				`"env" VARCHAR(32) NOT NULL, ` +
				`"parent" VARCHAR(32) DEFAULT NULL, ` +
				`"status" VARCHAR(16) NOT NULL DEFAULT 'WAIT', ` +
				`"created" ` + timetype + ` NOT NULL, ` +
				`"updated" ` + timetype + ` NOT NULL, ` +
				`"node" VARCHAR(32) DEFAULT NULL, ` +
				`"progress" INT NOT NULL DEFAULT 0, ` +
				`"total" INT NOT NULL DEFAULT 1, ` +
				`PRIMARY KEY ("id", "key", "env")` +
				`)`,
		}
	}

	return nil
}
