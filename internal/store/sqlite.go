package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// sqliteDialect backs db_url values with no scheme or a sqlite:// scheme,
// matching spec.md §6's default of a local file-backed SQLite store. It
// uses modernc.org/sqlite, the pure-Go driver the teacher repo embeds so
// the binary needs no cgo toolchain.
type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Open(dsn string) (*sql.DB, error) {
	path := strings.TrimPrefix(dsn, "sqlite://")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store at %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

func (sqliteDialect) Placeholder(int) string { return "?" }

func sqliteTypeName(c colType) string {
	switch c {
	case ctInteger, ctBigInt:
		return "INTEGER"
	case ctReal:
		return "REAL"
	case ctBool:
		return "INTEGER"
	case ctTimestamp:
		return "TEXT"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) CreateTableStatements() []string {
	stmts := make([]string, 0, len(tables))
	for _, t := range tables {
		autoInc := func(string) string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
		stmts = append(stmts, buildCreateTable(t, sqliteTypeName, autoInc, nil))
	}
	return stmts
}
