package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// dialect holds what differs between the supported engines.
type dialect struct {
	driver string
	schema string
	// forUpdate is appended to reads whose rows the transaction may write.
	forUpdate string
	dsn       func(url string) string
	lock      func(ctx context.Context, q querier, keys []string) error
	// beginRead opens a read-only transaction. end commits or rolls it back
	// and releases its connection.
	beginRead func(ctx context.Context, db *sql.DB) (q querier, end func(commit bool) error, err error)
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite:
		return sqliteDialect, nil
	case DriverPostgres:
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// SQLite has no row locks. Transactions start with BEGIN IMMEDIATE, which
// takes the database write lock up front, so read-then-write sequences of
// concurrent transactions never interleave.
var sqliteDialect = dialect{
	driver: DriverSQLite,
	schema: `
CREATE TABLE IF NOT EXISTS contacts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    phone_number TEXT,
    email TEXT,
    linked_id INTEGER,
    link_precedence TEXT NOT NULL CHECK(link_precedence IN ('primary', 'secondary')),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at DATETIME,
    FOREIGN KEY (linked_id) REFERENCES contacts(id),
    CHECK ((link_precedence = 'primary' AND linked_id IS NULL) OR (link_precedence = 'secondary' AND linked_id IS NOT NULL)),
    CHECK (email IS NOT NULL OR phone_number IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_phone ON contacts(phone_number);
CREATE INDEX IF NOT EXISTS idx_email ON contacts(email);
CREATE INDEX IF NOT EXISTS idx_linked_id ON contacts(linked_id);
`,
	dsn: func(url string) string {
		params := []string{"_txlock=immediate", "_busy_timeout=5000", "_foreign_keys=on"}
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		var missing []string
		for _, p := range params {
			if !strings.Contains(url, strings.SplitN(p, "=", 2)[0]+"=") {
				missing = append(missing, p)
			}
		}
		if len(missing) == 0 {
			return url
		}
		return url + sep + strings.Join(missing, "&")
	},
	lock:      func(context.Context, querier, []string) error { return nil },
	beginRead: beginDeferred,
}

// beginDeferred opens a DEFERRED transaction on a dedicated connection. The
// driver begins database/sql transactions with the DSN's _txlock, so the
// statement is issued by hand. It takes a shared lock on its first read.
func beginDeferred(ctx context.Context, db *sql.DB) (querier, func(bool) error, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, nil, err
	}
	if _, err := conn.ExecContext(ctx, "BEGIN DEFERRED"); err != nil {
		conn.Close()
		return nil, nil, err
	}
	end := func(commit bool) error {
		stmt := "ROLLBACK"
		if commit {
			stmt = "COMMIT"
		}
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), stmt); err != nil {
			// Never return a connection with an open transaction to the pool.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
			return err
		}
		return conn.Close()
	}
	return conn, end, nil
}

// Postgres runs at READ COMMITTED. Observation keys are serialized with
// transaction-scoped advisory locks and every row the resolver may rewrite is
// read FOR UPDATE.
var postgresDialect = dialect{
	driver: DriverPostgres,
	schema: `
CREATE TABLE IF NOT EXISTS contacts (
    id BIGSERIAL PRIMARY KEY,
    phone_number TEXT,
    email TEXT,
    linked_id BIGINT REFERENCES contacts(id),
    link_precedence TEXT NOT NULL CHECK(link_precedence IN ('primary', 'secondary')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at TIMESTAMPTZ,
    CHECK ((link_precedence = 'primary' AND linked_id IS NULL) OR (link_precedence = 'secondary' AND linked_id IS NOT NULL)),
    CHECK (email IS NOT NULL OR phone_number IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_phone ON contacts(phone_number);
CREATE INDEX IF NOT EXISTS idx_email ON contacts(email);
CREATE INDEX IF NOT EXISTS idx_linked_id ON contacts(linked_id);
`,
	forUpdate: " FOR UPDATE",
	dsn:       func(url string) string { return url },
	beginRead: func(ctx context.Context, db *sql.DB) (querier, func(bool) error, error) {
		tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, nil, err
		}
		end := func(commit bool) error {
			if commit {
				return tx.Commit()
			}
			return tx.Rollback()
		}
		return tx, end, nil
	},
	lock: func(ctx context.Context, q querier, keys []string) error {
		sorted := append([]string(nil), keys...)
		sort.Strings(sorted)
		for _, k := range sorted {
			if _, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, k); err != nil {
				return fmt.Errorf("advisory lock: %w", err)
			}
		}
		return nil
	},
}
