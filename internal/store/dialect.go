package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// colType is an abstract column type the two dialects below render into
// their own SQL type name. Keeping it abstract is what lets one table
// definition in schema.go drive both the SQLite and Postgres DDL.
type colType int

const (
	ctText colType = iota
	ctInteger
	ctBigInt
	ctReal
	ctBool
	ctTimestamp
)

// classify maps a column name to its abstract type. Primary-key id columns
// and small counters are integers; byte counts are big integers; CPU/memory
// percentages and CPU-time samples (user_time, system_time,
// sample_interval) are real; boolean flags are bool; the time_*,
// task_time_*, task_try_time_*, timestamp and reg_time columns are
// timestamps; everything else is text.
func classify(col string) colType {
	switch col {
	case "task_id", "try_id", "id", "cpu_count", "worker_count",
		"tasks_failed_count", "tasks_completed_count", "task_fail_count",
		"num_children", "pid":
		return ctInteger
	case "total_memory", "memory_virtual", "memory_resident",
		"disk_read_bytes", "disk_write_bytes":
		return ctBigInt
	case "cpu_percent", "memory_percent", "user_time", "system_time", "sample_interval":
		return ctReal
	case "task_memoize", "active":
		return ctBool
	case "time_began", "time_completed", "task_time_returned",
		"task_time_submitted", "task_time_running", "task_try_time_returned",
		"timestamp", "reg_time":
		return ctTimestamp
	default:
		return ctText
	}
}

// Dialect abstracts the two supported backing stores (§4.1a). It is
// responsible for opening the connection, naming its SQL types, and
// rendering placeholders in DML the adapter builds generically.
type Dialect interface {
	Name() string
	Open(dsn string) (*sql.DB, error)
	CreateTableStatements() []string
	Placeholder(pos int) string
}

// sqlTypeNamer renders an abstract colType into dialect concrete syntax.
type sqlTypeNamer func(colType) string

func buildCreateTable(t table, typeName sqlTypeNamer, autoIncrementDDL func(string) string, extraFK []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", t.name)
	cols := make([]string, 0, len(t.columns))
	for _, c := range t.columns {
		if c == t.autoIncrement {
			cols = append(cols, fmt.Sprintf("\t%s %s", c, autoIncrementDDL(c)))
			continue
		}
		nullable := classify(c) == ctTimestamp && isNullableTimestamp(t.name, c)
		def := fmt.Sprintf("\t%s %s", c, typeName(classify(c)))
		if !nullable {
			def += " NOT NULL"
		}
		cols = append(cols, def)
	}
	if t.autoIncrement == "" {
		cols = append(cols, fmt.Sprintf("\tPRIMARY KEY (%s)", strings.Join(t.primaryKey, ", ")))
	}
	cols = append(cols, extraFK...)
	b.WriteString(strings.Join(cols, ",\n"))
	b.WriteString("\n)")
	return b.String()
}

// isNullableTimestamp reports the handful of timestamp columns spec.md §3
// calls out as nullable: Workflow.time_completed, Task.task_time_returned,
// Try.task_time_running/task_try_time_returned.
func isNullableTimestamp(t TableName, col string) bool {
	switch {
	case t == TableWorkflow && col == "time_completed":
		return true
	case t == TableTask && col == "task_time_returned":
		return true
	case t == TableTry && (col == "task_time_running" || col == "task_try_time_returned"):
		return true
	default:
		return false
	}
}
