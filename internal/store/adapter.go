package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/parsl-go/monitordb/internal/messages"
)

// Adapter is the Store Adapter (C2): a transactional bulk insert / bulk
// update / rollback wrapper over a single SQL connection, bound at
// construction to the configured db_url and responsible for the one-time
// idempotent schema creation described in spec.md §4.2 and §4.1a.
type Adapter struct {
	db      *sql.DB
	dialect Dialect
}

// Open dispatches on dsn's scheme to pick a Dialect, opens the connection,
// and creates any missing tables. This is the "unrecoverable startup" error
// path of spec.md §7 — a bad URL or missing driver fails here, before any
// worker is spawned.
func Open(ctx context.Context, dsn string) (*Adapter, error) {
	var dialect Dialect
	switch {
	case isPostgresDSN(dsn):
		dialect = postgresDialect{}
	default:
		dialect = sqliteDialect{}
		if dir := filepath.Dir(strings.TrimPrefix(dsn, "sqlite://")); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create store directory %q: %w", dir, err)
			}
		}
	}

	db, err := dialect.Open(dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping store at %q: %w", dsn, err)
	}

	a := &Adapter{db: db, dialect: dialect}
	if err := a.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Adapter) createTables(ctx context.Context) error {
	for _, stmt := range a.dialect.CreateTableStatements() {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// QueryRow exposes the underlying connection for ad hoc reads: callers that
// need to inspect persisted rows directly (the tests) without
// this package growing a bespoke accessor per table.
func (a *Adapter) QueryRow(query string, args ...any) *sql.Row {
	return a.db.QueryRow(query, args...)
}

// DialectName reports which backend Open selected, for logging.
func (a *Adapter) DialectName() string {
	return a.dialect.Name()
}

// BulkInsert inserts every row into table within one transaction. A
// primary-key conflict on any row fails the whole transaction — spec.md
// §4.2 is explicit that this operation has no upsert semantics.
func (a *Adapter) BulkInsert(ctx context.Context, t TableName, rows []messages.Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin insert transaction for %s: %w", t, err)
	}

	columns := Columns(t)
	stmt := a.insertStatement(t, columns)
	for _, row := range rows {
		args := make([]any, len(columns))
		for i, c := range columns {
			args[i] = row[c]
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			a.Rollback(tx)
			return fmt.Errorf("failed to insert into %s: %w", t, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insert into %s: %w", t, err)
	}
	return nil
}

func (a *Adapter) insertStatement(t TableName, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = a.dialect.Placeholder(i + 1)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		t, strings.Join(columns, ", "), strings.Join(placeholders, ", "),
	)
}

// BulkUpdate updates the named columns for every row in table, keyed by
// table's declared primary key (extracted from each row). Whether a row
// whose key does not exist errors or is silently skipped is left to the
// underlying driver's policy — per spec.md §4.2, the coordinator tracks
// insertion itself and never depends on that distinction.
func (a *Adapter) BulkUpdate(ctx context.Context, t TableName, columns []string, rows []messages.Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin update transaction for %s: %w", t, err)
	}

	pk := PrimaryKey(t)
	stmt := a.updateStatement(t, columns, pk)
	for _, row := range rows {
		args := make([]any, 0, len(columns)+len(pk))
		for _, c := range columns {
			args = append(args, row[c])
		}
		for _, c := range pk {
			args = append(args, row[c])
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			a.Rollback(tx)
			return fmt.Errorf("failed to update %s: %w", t, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit update to %s: %w", t, err)
	}
	return nil
}

func (a *Adapter) updateStatement(t TableName, columns []string, pk []string) string {
	sets := make([]string, len(columns))
	pos := 1
	for i, c := range columns {
		sets[i] = fmt.Sprintf("%s = %s", c, a.dialect.Placeholder(pos))
		pos++
	}
	wheres := make([]string, len(pk))
	for i, c := range pk {
		wheres[i] = fmt.Sprintf("%s = %s", c, a.dialect.Placeholder(pos))
		pos++
	}
	return fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s",
		t, strings.Join(sets, ", "), strings.Join(wheres, " AND "),
	)
}

// Rollback discards tx, swallowing any error from the rollback itself —
// spec.md §7 treats a failed rollback as exception-swallowing by design,
// since the coordinator must never block on store failure.
func (a *Adapter) Rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}
