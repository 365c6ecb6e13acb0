// Package store implements the Schema & Mapping (C1) and Store Adapter (C2)
// components: declarative table definitions, message-to-row materialisation,
// and the transactional bulk insert/update/rollback operations the
// coordinator drives.
package store

// TableName identifies one of the six tables spec.md §3 defines.
type TableName string

const (
	TableWorkflow TableName = "workflow"
	TableTask     TableName = "task"
	TableTry      TableName = "try"
	TableStatus   TableName = "status"
	TableNode     TableName = "node"
	TableResource TableName = "resource"
)

// table describes one table's column list and primary key, in the order
// CREATE TABLE should declare them.
type table struct {
	name       TableName
	columns    []string
	primaryKey []string
	// autoIncrement is the column (if any) the dialect should declare as a
	// database-assigned surrogate key instead of a NOT NULL application value.
	autoIncrement string
}

var tables = []table{
	{
		name: TableWorkflow,
		columns: []string{
			"run_id", "workflow_name", "workflow_version", "host", "run_user",
			"rundir", "time_began", "time_completed",
			"tasks_failed_count", "tasks_completed_count",
		},
		primaryKey: []string{"run_id"},
	},
	{
		name: TableTask,
		columns: []string{
			"task_id", "run_id", "task_func_name", "task_memoize",
			"task_inputs", "task_outputs", "task_stdin", "task_stdout",
			"task_stderr", "task_depends_on", "task_time_returned", "task_fail_count",
		},
		primaryKey: []string{"task_id", "run_id"},
	},
	{
		name: TableTry,
		columns: []string{
			"try_id", "task_id", "run_id", "hostname", "task_executor",
			"task_time_submitted", "task_time_running", "task_try_time_returned",
			"task_fail_history",
		},
		primaryKey: []string{"try_id", "task_id", "run_id"},
	},
	{
		name: TableStatus,
		columns: []string{
			"task_id", "run_id", "task_status_name", "timestamp", "try_id",
		},
		primaryKey: []string{"task_id", "run_id", "task_status_name", "timestamp"},
	},
	{
		name: TableNode,
		columns: []string{
			"id", "run_id", "hostname", "cpu_count", "total_memory", "active",
			"worker_count", "interpreter_version", "reg_time",
		},
		primaryKey:    []string{"id"},
		autoIncrement: "id",
	},
	{
		name: TableResource,
		columns: []string{
			"try_id", "task_id", "run_id", "timestamp", "hostname", "pid",
			"cpu_percent", "memory_percent", "memory_virtual", "memory_resident",
			"disk_read_bytes", "disk_write_bytes", "num_children", "user_time",
			"system_time", "status", "sample_interval",
		},
		primaryKey: []string{"try_id", "task_id", "run_id", "timestamp"},
	},
}

var tablesByName = func() map[TableName]table {
	m := make(map[TableName]table, len(tables))
	for _, t := range tables {
		m[t.name] = t
	}
	return m
}()

// Columns returns every column defined for table, in declaration order. It
// is what Materialize falls back to when the caller passes nil columns.
func Columns(t TableName) []string {
	return append([]string(nil), tablesByName[t].columns...)
}

// PrimaryKey returns the ordered primary-key column names for table.
func PrimaryKey(t TableName) []string {
	return append([]string(nil), tablesByName[t].primaryKey...)
}
