package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
)

// postgresDialect backs db_url values with a postgres:// or postgresql://
// scheme (§4.1a), grounded on DBAShand-cdc-sink-redshift's
// CREATE TABLE IF NOT EXISTS / lib/pq usage. Unlike SQLite, Postgres's DDL
// can express the Resource table's composite reference to Try directly, so
// this dialect adds it as a real FOREIGN KEY (spec.md §9's "preserve the
// composite intent" note).
type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres store at %q: %w", dsn, err)
	}
	return db, nil
}

func (postgresDialect) Placeholder(pos int) string { return "$" + strconv.Itoa(pos) }

func postgresTypeName(c colType) string {
	switch c {
	case ctInteger:
		return "INTEGER"
	case ctBigInt:
		return "BIGINT"
	case ctReal:
		return "DOUBLE PRECISION"
	case ctBool:
		return "BOOLEAN"
	case ctTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func (postgresDialect) CreateTableStatements() []string {
	stmts := make([]string, 0, len(tables))
	for _, t := range tables {
		autoInc := func(string) string { return "SERIAL PRIMARY KEY" }
		var extraFK []string
		if t.name == TableResource {
			extraFK = []string{
				fmt.Sprintf("\tFOREIGN KEY (try_id, task_id, run_id) REFERENCES %s (try_id, task_id, run_id)", TableTry),
			}
		}
		stmts = append(stmts, buildCreateTable(t, postgresTypeName, autoInc, extraFK))
	}
	return stmts
}

// isPostgresDSN reports whether dsn names a Postgres connection string, per
// the scheme dispatch rule in spec.md §4.1a.
func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
