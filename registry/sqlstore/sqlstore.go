// Package sqlstore implements the registry contract over a relational
// database. Member entries live in a cluster_node table with explicit
// updated/expires timestamps; liveness comes from heartbeat rewrites and an
// expires >= now filter rather than a native TTL, and change detection is
// polling with a forced-balance cap rather than a blocking wait.
//
// Supported endpoints: mysql://, postgres:// (and postgresql://), and
// sqlite3:// (or sqlite:) URIs. The same store also persists job records
// and cluster/node data annotations, which the engine discovers through
// the types.JobStore and types.DataStore interfaces.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	// Database drivers are selected by endpoint URI scheme.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/bbcarchdev/libcluster/types"
)

const (
	// balanceSleep is the polling cadence of AwaitChange.
	balanceSleep = 5 * time.Second

	// maxBalanceWait caps how long AwaitChange may report "no change"
	// before forcing a balance anyway, for liveness against missed
	// updates and silent expiries.
	maxBalanceWait = 30 * time.Second

	// timeFormat is the wire format of all timestamps: UTC, ISO-8601,
	// second precision. The polling cadence is integer-seconds anyway.
	timeFormat = "2006-01-02 15:04:05"
)

// ErrEntryExpired is returned by a refresh announce that found no row to
// refresh.
var ErrEntryExpired = errors.New("registry entry missing or expired")

// Store is a registry handle backed by one database connection pool.
type Store struct {
	db     *sql.DB
	driver string
	scope  types.Scope
	logger types.Logger

	lastPoll    time.Time
	lastBalance time.Time
}

var (
	_ types.Registry       = (*Store)(nil)
	_ types.SchemaMigrator = (*Store)(nil)
	_ types.JobStore       = (*Store)(nil)
	_ types.DataStore      = (*Store)(nil)
)

// Open connects to the database identified by the endpoint URI and returns
// a handle scoped to the given key, environment and partition.
func Open(endpoint string, scope types.Scope, logger types.Logger) (*Store, error) {
	driver, dsn, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "mysql" {
		// The DDL and queries use ANSI double-quoted identifiers.
		if _, err := db.Exec(`SET SESSION sql_mode = CONCAT(@@sql_mode, ',ANSI_QUOTES')`); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("failed to enable ANSI_QUOTES: %w", err)
		}
	}

	return &Store{
		db:     db,
		driver: driver,
		scope:  scope,
		logger: logger,
	}, nil
}

// parseEndpoint maps a registry URI onto a database/sql driver name and DSN.
func parseEndpoint(endpoint string) (driver, dsn string, err error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", fmt.Errorf("cannot parse registry URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		// lib/pq accepts the URI form directly.
		return "postgres", endpoint, nil

	case "mysql":
		return "mysql", mysqlDSN(u), nil

	case "sqlite", "sqlite3":
		if u.Opaque != "" {
			dsn := u.Opaque
			if u.RawQuery != "" {
				dsn += "?" + u.RawQuery
			}

			return "sqlite3", dsn, nil
		}
		path := strings.TrimPrefix(endpoint, u.Scheme+"://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite registry URI %q names no database file", endpoint)
		}

		return "sqlite3", path, nil

	default:
		return "", "", fmt.Errorf("unsupported SQL scheme %q", u.Scheme)
	}
}

// mysqlDSN converts a mysql:// URI into the driver's DSN form,
// user:password@tcp(host:port)/dbname.
func mysqlDSN(u *url.URL) string {
	var b strings.Builder
	if u.User != nil {
		b.WriteString(u.User.Username())
		if password, ok := u.User.Password(); ok {
			b.WriteString(":")
			b.WriteString(password)
		}
		b.WriteString("@")
	}
	host := u.Host
	if host != "" {
		if !strings.Contains(host, ":") {
			host += ":3306"
		}
		fmt.Fprintf(&b, "tcp(%s)", host)
	}
	b.WriteString("/")
	b.WriteString(strings.TrimPrefix(u.Path, "/"))
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}

	return b.String()
}

// rebind rewrites ? placeholders into the $n form for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)

			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}

// partitionValue returns the partition as a nullable column value.
func (s *Store) partitionValue() any {
	if s.scope.Partition == "" {
		return nil
	}

	return s.scope.Partition
}

// Announce asserts the member's presence: a delete-then-insert within one
// read-committed transaction, so updated always advances and expires is
// recomputed. Not an upsert. With refresh set, the delete is required to
// have removed a row, so an entry that has been deleted surfaces as
// ErrEntryExpired and takes the heartbeat retry path. A row whose expires
// time has passed is still present and is replaced without error.
func (s *Store) Announce(ctx context.Context, instanceID string, workers int, ttl time.Duration, refresh bool) error {
	now := time.Now().UTC()
	updated := now.Format(timeFormat)
	expires := now.Add(ttl).Format(timeFormat)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx,
		s.rebind(`DELETE FROM "cluster_node" WHERE "id" = ? AND "key" = ? AND "env" = ?`),
		instanceID, s.scope.Key, s.scope.Environment,
	)
	if err != nil {
		return fmt.Errorf("failed to delete previous entry: %w", err)
	}
	if refresh {
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrEntryExpired
		}
	}

	_, err = tx.ExecContext(ctx,
		s.rebind(`INSERT INTO "cluster_node" ("id", "key", "partition", "env", "workers", "updated", "expires") VALUES (?, ?, ?, ?, ?, ?, ?)`),
		instanceID, s.scope.Key, s.partitionValue(), s.scope.Environment, workers, updated, expires,
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}

	return tx.Commit()
}

// Retract removes the member's entry.
func (s *Store) Retract(ctx context.Context, instanceID string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM "cluster_node" WHERE "id" = ? AND "key" = ? AND "env" = ?`),
		instanceID, s.scope.Key, s.scope.Environment,
	)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	return nil
}

// Snapshot returns the unexpired entries in scope, ascending by instance ID.
func (s *Store) Snapshot(ctx context.Context) ([]types.Member, error) {
	now := time.Now().UTC().Format(timeFormat)

	var (
		rows *sql.Rows
		err  error
	)
	if s.scope.Partition != "" {
		rows, err = s.db.QueryContext(ctx,
			s.rebind(`SELECT "id", "workers" FROM "cluster_node" WHERE "key" = ? AND "env" = ? AND "partition" = ? AND "expires" >= ? ORDER BY "id" ASC`),
			s.scope.Key, s.scope.Environment, s.scope.Partition, now,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			s.rebind(`SELECT "id", "workers" FROM "cluster_node" WHERE "key" = ? AND "env" = ? AND "partition" IS NULL AND "expires" >= ? ORDER BY "id" ASC`),
			s.scope.Key, s.scope.Environment, now,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cluster members: %w", err)
	}
	defer rows.Close()

	var members []types.Member
	for rows.Next() {
		var m types.Member
		if err := rows.Scan(&m.InstanceID, &m.Workers); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read member rows: %w", err)
	}

	return members, nil
}

// AwaitChange polls the table every few seconds for rows updated since the
// previous poll. With nothing observed for longer than the cap it returns
// anyway, forcing a balance: a member expiring produces no update, only the
// absence of one.
func (s *Store) AwaitChange(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(balanceSleep):
		}

		now := time.Now().UTC()
		changed, err := s.changedSince(ctx, s.lastPoll)
		if err != nil {
			// Transient query failures are absorbed; the cap below keeps
			// the loop live regardless.
			s.logger.Debug("change poll failed", "error", err)
		}
		s.lastPoll = now

		if changed || now.Sub(s.lastBalance) >= maxBalanceWait {
			s.lastBalance = now

			return nil
		}
	}
}

// changedSince reports whether any live row in scope was updated at or
// after the given time. A zero time matches every live row, which makes the
// first poll after a join report change.
func (s *Store) changedSince(ctx context.Context, since time.Time) (bool, error) {
	now := time.Now().UTC().Format(timeFormat)

	args := []any{s.scope.Key, s.scope.Environment}
	query := `SELECT COUNT(*) FROM "cluster_node" WHERE "key" = ? AND "env" = ?`
	if s.scope.Partition != "" {
		query += ` AND "partition" = ?`
		args = append(args, s.scope.Partition)
	} else {
		query += ` AND "partition" IS NULL`
	}
	query += ` AND "expires" >= ?`
	args = append(args, now)
	if !since.IsZero() {
		query += ` AND "updated" >= ?`
		args = append(args, since.Format(timeFormat))
	}

	var count int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&count); err != nil {
		return false, err
	}

	return count > 0, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
