// Package messages defines the tagged-variant message types carried on the
// three inbound queues (priority, node, resource) described in spec.md §6.
// Each variant implements Fielder so the store package's materialiser can
// project it onto the columns of whichever table it affects without the
// core ever passing an untyped map between goroutines.
package messages

import "time"

// Row is the untyped key->value shape the materialiser consumes. It exists
// only at the store boundary — everywhere else messages carry their fields
// as plain struct members.
type Row map[string]any

// Fielder is implemented by every message variant. Fields returns every
// column value the message carries, keyed by column name; it is the single
// place where a typed message degrades into the untyped map the original
// source passed around everywhere.
type Fielder interface {
	Fields() Row
}

// Kind tags which variant a PriorityEnvelope carries, matching the
// WORKFLOW_INFO / TASK_INFO tags in spec.md §4.5.
type Kind int

const (
	KindWorkflowStart Kind = iota
	KindWorkflowEnd
	KindTaskInfo
)

func (k Kind) String() string {
	switch k {
	case KindWorkflowStart:
		return "WORKFLOW_START"
	case KindWorkflowEnd:
		return "WORKFLOW_END"
	case KindTaskInfo:
		return "TASK_INFO"
	default:
		return "UNKNOWN"
	}
}

// PriorityEnvelope is one item off the priority queue: either the STOP
// sentinel, or exactly one of the typed messages below, tagged by Kind.
type PriorityEnvelope struct {
	Stop bool
	Kind Kind

	WorkflowStart *WorkflowStartMessage
	WorkflowEnd   *WorkflowEndMessage
	TaskInfo      *TaskInfoMessage
}

// WorkflowStartMessage is a WORKFLOW_INFO message distinguished by carrying
// an interpreter version — the workflow-start variant in spec.md §4.5.
type WorkflowStartMessage struct {
	RunID               string
	WorkflowName        string
	WorkflowVersion     string
	InterpreterVersion  string
	Host                string
	User                string
	Rundir              string
	TimeBegan           time.Time
	TasksFailedCount    int
	TasksCompletedCount int
}

func (m *WorkflowStartMessage) Fields() Row {
	return Row{
		"run_id":                m.RunID,
		"workflow_name":         m.WorkflowName,
		"workflow_version":      m.WorkflowVersion,
		"host":                  m.Host,
		"run_user":              m.User,
		"rundir":                m.Rundir,
		"time_began":            m.TimeBegan,
		"time_completed":        nil,
		"tasks_failed_count":    m.TasksFailedCount,
		"tasks_completed_count": m.TasksCompletedCount,
	}
}

// WorkflowEndMessage is a WORKFLOW_INFO message with no interpreter version
// — the workflow-end variant in spec.md §4.5.
type WorkflowEndMessage struct {
	RunID               string
	TasksFailedCount    int
	TasksCompletedCount int
	TimeCompleted       time.Time
}

func (m *WorkflowEndMessage) Fields() Row {
	return Row{
		"run_id":                m.RunID,
		"tasks_failed_count":    m.TasksFailedCount,
		"tasks_completed_count": m.TasksCompletedCount,
		"time_completed":        m.TimeCompleted,
	}
}

// TaskInfoMessage is a TASK_INFO priority message. It carries the superset
// of fields the materialiser may need to project onto Workflow (counters),
// Task, Try, and Status — spec.md §4.5 step 2 and the fixed DML order in
// step thereafter.
type TaskInfoMessage struct {
	RunID  string
	TaskID int64
	TryID  int64

	TaskFuncName     string
	TaskMemoize      bool
	TaskInputs       string
	TaskOutputs      string
	TaskStdin        string
	TaskStdout       string
	TaskStderr       string
	TaskDependsOn    string
	TaskTimeReturned *time.Time
	TaskFailCount    int

	Hostname            string
	TaskExecutor        string
	TaskTimeSubmitted   time.Time
	TaskTryTimeReturned *time.Time
	TaskFailHistory     string

	TaskStatusName string
	Timestamp      time.Time

	TasksFailedCount    int
	TasksCompletedCount int
}

func (m *TaskInfoMessage) Fields() Row {
	var taskTimeReturned any
	if m.TaskTimeReturned != nil {
		taskTimeReturned = *m.TaskTimeReturned
	}
	var taskTryTimeReturned any
	if m.TaskTryTimeReturned != nil {
		taskTryTimeReturned = *m.TaskTryTimeReturned
	}
	return Row{
		"run_id":                 m.RunID,
		"task_id":                m.TaskID,
		"try_id":                 m.TryID,
		"task_func_name":         m.TaskFuncName,
		"task_memoize":           m.TaskMemoize,
		"task_inputs":            m.TaskInputs,
		"task_outputs":           m.TaskOutputs,
		"task_stdin":             m.TaskStdin,
		"task_stdout":            m.TaskStdout,
		"task_stderr":            m.TaskStderr,
		"task_depends_on":        m.TaskDependsOn,
		"task_time_returned":     taskTimeReturned,
		"task_fail_count":        m.TaskFailCount,
		"hostname":               m.Hostname,
		"task_executor":          m.TaskExecutor,
		"task_time_submitted":    m.TaskTimeSubmitted,
		"task_try_time_returned": taskTryTimeReturned,
		"task_fail_history":      m.TaskFailHistory,
		"task_status_name":       m.TaskStatusName,
		"timestamp":              m.Timestamp,
		"tasks_failed_count":     m.TasksFailedCount,
		"tasks_completed_count":  m.TasksCompletedCount,
	}
}

// NodeMessage is the one-time compute-node registration message.
type NodeMessage struct {
	RunID              string
	Hostname           string
	CPUCount           int
	TotalMemory        int64
	Active             bool
	WorkerCount        int
	InterpreterVersion string
	RegTime            time.Time
}

func (m *NodeMessage) Fields() Row {
	return Row{
		"run_id":              m.RunID,
		"hostname":            m.Hostname,
		"cpu_count":           m.CPUCount,
		"total_memory":        m.TotalMemory,
		"active":              m.Active,
		"worker_count":        m.WorkerCount,
		"interpreter_version": m.InterpreterVersion,
		"reg_time":            m.RegTime,
	}
}

// ResourceMessage is one periodic sample from the per-task resource
// monitor. FirstMsg marks the sample that doubles as the task's transition
// to "running" (spec.md §3, §4.5 step 4).
type ResourceMessage struct {
	RunID     string
	TaskID    int64
	TryID     int64
	Timestamp time.Time

	FirstMsg bool
	Hostname string

	PID            int
	CPUPercent     float64
	MemoryPercent  float64
	MemoryVirtual  int64
	MemoryResident int64
	DiskReadBytes  int64
	DiskWriteBytes int64
	NumChildren    int
	UserTime       float64
	SystemTime     float64
	Status         string
	SampleInterval float64
}

func (m *ResourceMessage) Fields() Row {
	return Row{
		"run_id":           m.RunID,
		"task_id":          m.TaskID,
		"try_id":           m.TryID,
		"timestamp":        m.Timestamp,
		"hostname":         m.Hostname,
		"pid":              m.PID,
		"cpu_percent":      m.CPUPercent,
		"memory_percent":   m.MemoryPercent,
		"memory_virtual":   m.MemoryVirtual,
		"memory_resident":  m.MemoryResident,
		"disk_read_bytes":  m.DiskReadBytes,
		"disk_write_bytes": m.DiskWriteBytes,
		"num_children":     m.NumChildren,
		"user_time":        m.UserTime,
		"system_time":      m.SystemTime,
		"status":           m.Status,
		"sample_interval":  m.SampleInterval,
	}
}

// RawTuple is the envelope shape the node and resource external queues
// carry: a tuple (slice) whose last element is the payload message, per
// spec.md §4.3. The intake workers are the only code that unpacks it.
type RawTuple []any

// LastElement returns the final element of a RawTuple, or false if the
// tuple is empty. Intake workers use it to extract the payload and discard
// whatever leading elements the producer attached.
func LastElement(t RawTuple) (any, bool) {
	if len(t) == 0 {
		return nil, false
	}
	return t[len(t)-1], true
}

// ErrorReport is pushed onto the host-supplied error queue on fatal
// exception, per spec.md §6.
type ErrorReport struct {
	Source  string
	Message string
}
