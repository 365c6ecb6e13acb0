package coordinator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/parsl-go/monitordb/internal/ingest"
	"github.com/parsl-go/monitordb/internal/messages"
	"github.com/parsl-go/monitordb/internal/store"
)

// harness wires a Coordinator to a throwaway sqlite store and a set of
// buffered channels it owns. Tests push directly onto the internal channels
// the coordinator drains; the external channels exist only so the
// loop-termination and heartbeat-depth checks have something to read len()
// from, matching the shape Queues expects from the real intake workers.
type harness struct {
	t        *testing.T
	adapter  *store.Adapter
	shutdown *ingest.ShutdownFlag
	coord    *Coordinator

	priorityExternal chan messages.PriorityEnvelope
	priorityInternal chan messages.PriorityEnvelope
	nodeExternal     chan messages.RawTuple
	nodeInternal     chan *messages.NodeMessage
	resourceExternal chan messages.RawTuple
	resourceInternal chan *messages.ResourceMessage
}

func newHarness(t *testing.T, interval time.Duration, threshold int) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitoring.db")
	adapter, err := store.Open(context.Background(), "sqlite://"+path)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = adapter.Close() })

	h := &harness{
		t:                t,
		adapter:          adapter,
		shutdown:         &ingest.ShutdownFlag{},
		priorityExternal: make(chan messages.PriorityEnvelope, 64),
		priorityInternal: make(chan messages.PriorityEnvelope, 64),
		nodeExternal:     make(chan messages.RawTuple, 64),
		nodeInternal:     make(chan *messages.NodeMessage, 64),
		resourceExternal: make(chan messages.RawTuple, 64),
		resourceInternal: make(chan *messages.ResourceMessage, 64),
	}
	h.coord = New(adapter, h.shutdown, Config{BatchInterval: interval, BatchThreshold: threshold}, Queues{
		PriorityExternal: h.priorityExternal,
		PriorityInternal: h.priorityInternal,
		NodeExternal:     h.nodeExternal,
		NodeInternal:     h.nodeInternal,
		ResourceExternal: h.resourceExternal,
		ResourceInternal: h.resourceInternal,
	}, nil)
	return h
}

// runUntilDrained signals shutdown and blocks until Run returns, with a
// generous timeout so a stuck coordinator fails the test instead of the
// suite.
func (h *harness) runUntilDrained() {
	h.t.Helper()
	h.shutdown.Trigger()
	done := make(chan error, 1)
	go func() { done <- h.coord.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			h.t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		h.t.Fatal("coordinator did not drain and return")
	}
}

func (h *harness) countRows(table store.TableName) int {
	h.t.Helper()
	var n int
	if err := h.adapter.QueryRow("SELECT count(1) FROM " + string(table)).Scan(&n); err != nil {
		h.t.Fatalf("count(%s) error = %v", table, err)
	}
	return n
}

func taskInfoEnvelope(runID string, taskID, tryID int64, status string, submitted, ts time.Time, completed, failed int) messages.PriorityEnvelope {
	return messages.PriorityEnvelope{
		Kind: messages.KindTaskInfo,
		TaskInfo: &messages.TaskInfoMessage{
			RunID:               runID,
			TaskID:              taskID,
			TryID:               tryID,
			TaskFuncName:        "f",
			TaskExecutor:        "e",
			TaskTimeSubmitted:   submitted,
			TaskStatusName:      status,
			Timestamp:           ts,
			TasksCompletedCount: completed,
			TasksFailedCount:    failed,
		},
	}
}

func TestNormalTaskLifecycle(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond, 99999)

	t0 := time.Unix(1000, 0)
	t1 := time.Unix(1001, 0)
	t3 := time.Unix(1003, 0)
	t4 := time.Unix(1004, 0)

	h.priorityInternal <- messages.PriorityEnvelope{
		Kind: messages.KindWorkflowStart,
		WorkflowStart: &messages.WorkflowStartMessage{
			RunID: "r1", WorkflowName: "wf", InterpreterVersion: "3.x",
			Host: "h", User: "u", Rundir: "/tmp", TimeBegan: t0,
		},
	}
	h.priorityInternal <- taskInfoEnvelope("r1", 1, 0, "pending", t1, t1, 0, 0)

	returned := t3
	h.priorityInternal <- messages.PriorityEnvelope{
		Kind: messages.KindTaskInfo,
		TaskInfo: &messages.TaskInfoMessage{
			RunID: "r1", TaskID: 1, TryID: 0,
			TaskFuncName: "f", TaskExecutor: "e",
			TaskTimeSubmitted: t1, TaskTimeReturned: &returned,
			TaskStatusName: "done", Timestamp: t3,
			TasksCompletedCount: 1,
		},
	}
	h.priorityInternal <- messages.PriorityEnvelope{
		Kind: messages.KindWorkflowEnd,
		WorkflowEnd: &messages.WorkflowEndMessage{
			RunID: "r1", TasksCompletedCount: 1, TimeCompleted: t4,
		},
	}
	close(h.priorityInternal)
	close(h.nodeInternal)
	close(h.resourceInternal)

	h.runUntilDrained()

	if n := h.countRows(store.TableWorkflow); n != 1 {
		t.Errorf("workflow rows = %d, want 1", n)
	}
	if n := h.countRows(store.TableTask); n != 1 {
		t.Errorf("task rows = %d, want 1", n)
	}
	if n := h.countRows(store.TableTry); n != 1 {
		t.Errorf("try rows = %d, want 1", n)
	}
	if n := h.countRows(store.TableStatus); n != 2 {
		t.Errorf("status rows = %d, want 2", n)
	}

	var timeCompleted string
	if err := h.adapter.QueryRow(`SELECT time_completed FROM workflow WHERE run_id = ?`, "r1").Scan(&timeCompleted); err != nil {
		t.Fatalf("query time_completed error = %v", err)
	}
	if timeCompleted == "" {
		t.Error("expected non-null time_completed")
	}
}

func TestOutOfOrderResourceIsDeferredThenPromoted(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond, 99999)
	t1 := time.Unix(2000, 0)
	t2 := time.Unix(2001, 0)

	h.resourceInternal <- &messages.ResourceMessage{
		RunID: "r1", TaskID: 1, TryID: 0, Timestamp: t2,
		FirstMsg: true, Hostname: "node-a",
	}
	close(h.resourceInternal)

	// One iteration with the priority queue still empty: the first_msg
	// sample finds no try row and is deferred.
	h.coord.runIteration(context.Background())

	h.priorityInternal <- taskInfoEnvelope("r1", 1, 0, "pending", t1, t1, 0, 0)
	close(h.priorityInternal)
	close(h.nodeInternal)

	h.runUntilDrained()

	if n := h.countRows(store.TableResource); n != 1 {
		t.Errorf("resource rows = %d, want 1", n)
	}

	var statusName string
	if err := h.adapter.QueryRow(`SELECT task_status_name FROM status WHERE task_id = 1 AND run_id = 'r1' AND task_status_name = 'running'`).Scan(&statusName); err != nil {
		t.Fatalf("query running status error = %v", err)
	}
	if statusName != "running" {
		t.Errorf("status = %q, want running", statusName)
	}

	var timeRunning, hostname string
	if err := h.adapter.QueryRow(`SELECT task_time_running, hostname FROM try WHERE task_id = 1 AND try_id = 0 AND run_id = 'r1'`).Scan(&timeRunning, &hostname); err != nil {
		t.Fatalf("query try error = %v", err)
	}
	if hostname != "node-a" {
		t.Errorf("hostname = %q, want node-a", hostname)
	}
}

func TestDuplicateDeferredResourceOverwrites(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond, 99999)
	t1 := time.Unix(3000, 0)
	t2a := time.Unix(3001, 0)
	t2b := time.Unix(3002, 0)

	h.resourceInternal <- &messages.ResourceMessage{RunID: "r1", TaskID: 1, TryID: 0, Timestamp: t2a, FirstMsg: true, Hostname: "node-a"}
	h.resourceInternal <- &messages.ResourceMessage{RunID: "r1", TaskID: 1, TryID: 0, Timestamp: t2b, FirstMsg: true, Hostname: "node-b"}
	close(h.resourceInternal)

	// One iteration with the priority queue still empty: both samples find
	// no try row, so the second overwrites the first in the deferred slot.
	h.coord.runIteration(context.Background())

	h.priorityInternal <- taskInfoEnvelope("r1", 1, 0, "pending", t1, t1, 0, 0)
	close(h.priorityInternal)
	close(h.nodeInternal)

	h.runUntilDrained()

	if n := h.countRows(store.TableResource); n != 2 {
		t.Errorf("resource rows = %d, want 2", n)
	}

	var running int
	if err := h.adapter.QueryRow(`SELECT count(1) FROM status WHERE task_status_name = 'running'`).Scan(&running); err != nil {
		t.Fatalf("query error = %v", err)
	}
	if running != 1 {
		t.Errorf("running status rows = %d, want 1", running)
	}

	var hostname string
	if err := h.adapter.QueryRow(`SELECT hostname FROM try WHERE task_id = 1 AND try_id = 0 AND run_id = 'r1'`).Scan(&hostname); err != nil {
		t.Fatalf("query error = %v", err)
	}
	if hostname != "node-b" {
		t.Errorf("hostname = %q, want node-b (second message should win)", hostname)
	}
}

func TestAbnormalExitFinalizesWorkflow(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond, 99999)
	t0 := time.Unix(4000, 0)

	h.priorityInternal <- messages.PriorityEnvelope{
		Kind: messages.KindWorkflowStart,
		WorkflowStart: &messages.WorkflowStartMessage{
			RunID: "r1", InterpreterVersion: "3.x", TimeBegan: t0,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	done := make(chan error, 1)
	go func() { done <- h.coord.Run(ctx) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not return after context cancellation")
	}

	var timeCompleted string
	if err := h.adapter.QueryRow(`SELECT time_completed FROM workflow WHERE run_id = ?`, "r1").Scan(&timeCompleted); err != nil {
		t.Fatalf("query error = %v", err)
	}
	if timeCompleted == "" {
		t.Error("expected abnormal-exit finaliser to set a non-null time_completed")
	}
}

func TestBatchingPersistsEveryTrickledMessage(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond, 5)
	t0 := time.Unix(5000, 0)

	go func() {
		for i := 0; i < 5; i++ {
			h.priorityInternal <- taskInfoEnvelope("r1", int64(i), 0, "pending", t0, t0, 0, 0)
			time.Sleep(10 * time.Millisecond)
		}
		close(h.priorityInternal)
		close(h.nodeInternal)
		close(h.resourceInternal)
	}()

	h.runUntilDrained()

	if n := h.countRows(store.TableTask); n != 5 {
		t.Errorf("task rows = %d, want 5", n)
	}
}
