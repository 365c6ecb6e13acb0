// Package coordinator implements the Coordinator (C5): the single
// goroutine that owns every store mutation, reconciling the three internal
// queues against the fixed DML order and deferred-resource bookkeeping.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/parsl-go/monitordb/internal/ingest"
	"github.com/parsl-go/monitordb/internal/messages"
	"github.com/parsl-go/monitordb/internal/store"
)

// tryKey identifies one (task_id, try_id) pair — the join key the
// deferred-resource mechanism and the inserted-tries set both use.
type tryKey struct {
	TaskID int64
	TryID  int64
}

// Heartbeat is implemented by the optional ops surface; Coordinator pushes
// one frame per iteration when it is non-nil.
type Heartbeat interface {
	Push(frame HeartbeatFrame)
}

// HeartbeatFrame is one liveness snapshot, pushed after every iteration.
type HeartbeatFrame struct {
	Iteration      int
	PriorityQueued int
	NodeQueued     int
	ResourceQueued int
	LastBatchSizes [3]int
	ShuttingDown   bool
}

// Config bundles the batching parameters the coordinator widens once
// shutdown is signalled.
type Config struct {
	BatchInterval  time.Duration
	BatchThreshold int
}

// Coordinator is the C5 reconciliation loop. Construct with New and run
// with Run; both are meant to be called exactly once, from the lifecycle's
// single coordinator goroutine.
type Coordinator struct {
	store    *store.Adapter
	shutdown *ingest.ShutdownFlag
	cfg      Config
	hb       Heartbeat

	priorityExternal <-chan messages.PriorityEnvelope
	priorityInternal <-chan messages.PriorityEnvelope
	nodeExternal     <-chan messages.RawTuple
	nodeInternal     <-chan *messages.NodeMessage
	resourceExternal <-chan messages.RawTuple
	resourceInternal <-chan *messages.ResourceMessage

	insertedTasks    map[int64]struct{}
	insertedTries    map[tryKey]struct{}
	deferredResource map[tryKey]*messages.ResourceMessage

	workflowEnd   bool
	workflowStart *messages.WorkflowStartMessage
}

// Queues bundles every external/internal channel pair the coordinator reads
// from, handed to it (and to the intake workers) by the lifecycle.
type Queues struct {
	PriorityExternal <-chan messages.PriorityEnvelope
	PriorityInternal <-chan messages.PriorityEnvelope
	NodeExternal     <-chan messages.RawTuple
	NodeInternal     <-chan *messages.NodeMessage
	ResourceExternal <-chan messages.RawTuple
	ResourceInternal <-chan *messages.ResourceMessage
}

// New builds a Coordinator. hb may be nil, disabling the heartbeat push.
func New(adapter *store.Adapter, shutdown *ingest.ShutdownFlag, cfg Config, q Queues, hb Heartbeat) *Coordinator {
	return &Coordinator{
		store:            adapter,
		shutdown:         shutdown,
		cfg:              cfg,
		hb:               hb,
		priorityExternal: q.PriorityExternal,
		priorityInternal: q.PriorityInternal,
		nodeExternal:     q.NodeExternal,
		nodeInternal:     q.NodeInternal,
		resourceExternal: q.ResourceExternal,
		resourceInternal: q.ResourceInternal,
		insertedTasks:    make(map[int64]struct{}),
		insertedTries:    make(map[tryKey]struct{}),
		deferredResource: make(map[tryKey]*messages.ResourceMessage),
	}
}

// Run drives the reconciliation loop until shutdown is signalled and every
// queue has drained, or ctx is cancelled. On cancellation it runs the
// abnormal-exit finaliser and returns ctx.Err() so main can exit non-zero.
func (c *Coordinator) Run(ctx context.Context) error {
	iteration := 0
	for c.shouldContinue() {
		select {
		case <-ctx.Done():
			c.runAbnormalFinalizer(context.Background())
			return ctx.Err()
		default:
		}

		iteration++
		batchID := uuid.New()
		sizes := c.runIteration(ctx)

		slog.Debug("coordinator iteration complete",
			"batch_id", batchID,
			"iteration", iteration,
			"priority", humanize.Comma(int64(sizes[0])),
			"node", humanize.Comma(int64(sizes[1])),
			"resource", humanize.Comma(int64(sizes[2])),
		)

		if c.hb != nil {
			c.hb.Push(HeartbeatFrame{
				Iteration:      iteration,
				PriorityQueued: len(c.priorityExternal) + len(c.priorityInternal),
				NodeQueued:     len(c.nodeExternal) + len(c.nodeInternal),
				ResourceQueued: len(c.resourceExternal) + len(c.resourceInternal),
				LastBatchSizes: sizes,
				ShuttingDown:   c.shutdown.IsSet(),
			})
		}
	}
	return nil
}

func (c *Coordinator) shouldContinue() bool {
	if !c.shutdown.IsSet() {
		return true
	}
	if len(c.priorityInternal) > 0 || len(c.nodeInternal) > 0 || len(c.resourceInternal) > 0 {
		return true
	}
	if len(c.priorityExternal) > 0 || len(c.nodeExternal) > 0 || len(c.resourceExternal) > 0 {
		return true
	}
	return false
}

// effectiveInterval/effectiveThreshold widen the batcher's bounds once
// shutdown is signalled so draining the tail of each queue never waits on
// the configured interval — only the batcher's empty-poll condition ends
// each drain from here on.
func (c *Coordinator) effectiveInterval() time.Duration {
	if c.shutdown.IsSet() {
		return time.Hour
	}
	return c.cfg.BatchInterval
}

func (c *Coordinator) effectiveThreshold() int {
	if c.shutdown.IsSet() {
		return 1 << 30
	}
	return c.cfg.BatchThreshold
}

// runIteration executes one pass of the five phases in §4.5's fixed order
// and returns the three batch sizes observed, for logging.
func (c *Coordinator) runIteration(ctx context.Context) [3]int {
	reprocessable := make([]*messages.ResourceMessage, 0)

	priorityBatch := ingest.DrainBatch(c.priorityInternal, c.effectiveInterval(), c.effectiveThreshold())
	c.processPriorityBatch(ctx, priorityBatch, &reprocessable)

	nodeBatch := ingest.DrainBatch(c.nodeInternal, c.effectiveInterval(), c.effectiveThreshold())
	c.processNodeBatch(ctx, nodeBatch)

	resourceBatch := ingest.DrainBatch(c.resourceInternal, c.effectiveInterval(), c.effectiveThreshold())
	c.processResourceBatch(ctx, resourceBatch, &reprocessable)

	c.applyReprocessable(ctx, reprocessable)

	return [3]int{len(priorityBatch), len(nodeBatch), len(resourceBatch)}
}

func (c *Coordinator) processPriorityBatch(ctx context.Context, batch []messages.PriorityEnvelope, reprocessable *[]*messages.ResourceMessage) {
	if len(batch) == 0 {
		return
	}

	var taskInfoAll, taskInfoInsert, taskInfoUpdate, tryInsert, tryUpdate []*messages.TaskInfoMessage

	for _, env := range batch {
		if env.Stop {
			continue
		}
		switch env.Kind {
		case messages.KindWorkflowStart:
			start := env.WorkflowStart
			row := store.Materialize(store.TableWorkflow, nil, start)
			if err := c.store.BulkInsert(ctx, store.TableWorkflow, []messages.Row{row}); err != nil {
				c.logDMLError("insert workflow start", err)
			}
			c.workflowStart = start

		case messages.KindWorkflowEnd:
			end := env.WorkflowEnd
			cols := []string{"run_id", "tasks_failed_count", "tasks_completed_count", "time_completed"}
			row := store.Materialize(store.TableWorkflow, cols, end)
			set := []string{"tasks_failed_count", "tasks_completed_count", "time_completed"}
			if err := c.store.BulkUpdate(ctx, store.TableWorkflow, set, []messages.Row{row}); err != nil {
				c.logDMLError("update workflow end", err)
			}
			c.workflowEnd = true

		case messages.KindTaskInfo:
			msg := env.TaskInfo
			taskInfoAll = append(taskInfoAll, msg)

			if _, ok := c.insertedTasks[msg.TaskID]; ok {
				taskInfoUpdate = append(taskInfoUpdate, msg)
			} else {
				c.insertedTasks[msg.TaskID] = struct{}{}
				taskInfoInsert = append(taskInfoInsert, msg)
			}

			key := tryKey{TaskID: msg.TaskID, TryID: msg.TryID}
			if _, ok := c.insertedTries[key]; ok {
				tryUpdate = append(tryUpdate, msg)
			} else {
				c.insertedTries[key] = struct{}{}
				tryInsert = append(tryInsert, msg)
				if deferred, ok := c.deferredResource[key]; ok {
					delete(c.deferredResource, key)
					*reprocessable = append(*reprocessable, deferred)
				}
			}

		default:
			panic(fmt.Sprintf("coordinator: unknown priority message kind on the wire: %v", env.Kind))
		}
	}

	// Step 1: workflow counters, from every task_info message seen this batch.
	if len(taskInfoAll) > 0 {
		cols := []string{"run_id", "tasks_failed_count", "tasks_completed_count"}
		rows := store.MaterializeAll(store.TableWorkflow, cols, taskInfoFielders(taskInfoAll))
		set := []string{"tasks_failed_count", "tasks_completed_count"}
		if err := c.store.BulkUpdate(ctx, store.TableWorkflow, set, rows); err != nil {
			c.logDMLError("update workflow counters", err)
		}
	}

	// Step 2: new Task rows.
	if len(taskInfoInsert) > 0 {
		rows := store.MaterializeAll(store.TableTask, nil, taskInfoFielders(taskInfoInsert))
		if err := c.store.BulkInsert(ctx, store.TableTask, rows); err != nil {
			c.logDMLError("insert task batch", err)
		}
	}

	// Step 3: Task updates for tasks already on record.
	if len(taskInfoUpdate) > 0 {
		cols := []string{"task_time_submitted", "task_time_returned", "run_id", "task_id", "task_fail_count"}
		rows := store.MaterializeAll(store.TableTask, cols, taskInfoFielders(taskInfoUpdate))
		set := []string{"task_time_returned", "task_fail_count"}
		if err := c.store.BulkUpdate(ctx, store.TableTask, set, rows); err != nil {
			c.logDMLError("update task batch", err)
		}
	}

	// Step 4: Status is append-only — every task_info message logs a transition.
	if len(taskInfoAll) > 0 {
		rows := store.MaterializeAll(store.TableStatus, nil, taskInfoFielders(taskInfoAll))
		if err := c.store.BulkInsert(ctx, store.TableStatus, rows); err != nil {
			c.logDMLError("insert status batch", err)
		}
	}

	// Step 5: new Try rows.
	if len(tryInsert) > 0 {
		rows := store.MaterializeAll(store.TableTry, nil, taskInfoFielders(tryInsert))
		if err := c.store.BulkInsert(ctx, store.TableTry, rows); err != nil {
			c.logDMLError("insert try batch", err)
		}
	}

	// Step 6: Try updates for attempts already on record.
	if len(tryUpdate) > 0 {
		cols := []string{
			"task_time_returned", "run_id", "task_id", "try_id",
			"task_fail_history", "task_time_submitted", "task_try_time_returned",
		}
		rows := store.MaterializeAll(store.TableTry, cols, taskInfoFielders(tryUpdate))
		set := []string{"task_fail_history", "task_time_submitted", "task_try_time_returned"}
		if err := c.store.BulkUpdate(ctx, store.TableTry, set, rows); err != nil {
			c.logDMLError("update try batch", err)
		}
	}
}

func (c *Coordinator) processNodeBatch(ctx context.Context, batch []*messages.NodeMessage) {
	if len(batch) == 0 {
		return
	}
	rows := store.MaterializeAll(store.TableNode, nil, nodeFielders(batch))
	if err := c.store.BulkInsert(ctx, store.TableNode, rows); err != nil {
		c.logDMLError("insert node batch", err)
	}
}

func (c *Coordinator) processResourceBatch(ctx context.Context, batch []*messages.ResourceMessage, reprocessable *[]*messages.ResourceMessage) {
	if len(batch) == 0 {
		return
	}

	rows := store.MaterializeAll(store.TableResource, nil, resourceFielders(batch))
	if err := c.store.BulkInsert(ctx, store.TableResource, rows); err != nil {
		c.logDMLError("insert resource batch", err)
	}

	for _, msg := range batch {
		if !msg.FirstMsg {
			continue
		}
		key := tryKey{TaskID: msg.TaskID, TryID: msg.TryID}
		if _, ok := c.insertedTries[key]; ok {
			*reprocessable = append(*reprocessable, msg)
			continue
		}
		if _, exists := c.deferredResource[key]; exists {
			slog.Error("duplicate first_msg resource message before its try row; overwriting",
				"task_id", msg.TaskID, "try_id", msg.TryID)
		}
		c.deferredResource[key] = msg
	}
}

func (c *Coordinator) applyReprocessable(ctx context.Context, batch []*messages.ResourceMessage) {
	if len(batch) == 0 {
		return
	}

	statusRows := make([]messages.Row, 0, len(batch))
	tryRows := make([]messages.Row, 0, len(batch))
	for _, msg := range batch {
		promoted := &promotedRunning{msg: msg}
		statusRows = append(statusRows, store.Materialize(store.TableStatus, nil, promoted))
		tryCols := []string{"try_id", "task_id", "run_id", "task_time_running", "hostname"}
		tryRows = append(tryRows, store.Materialize(store.TableTry, tryCols, promoted))
	}

	if err := c.store.BulkInsert(ctx, store.TableStatus, statusRows); err != nil {
		c.logDMLError("insert reprocessable status batch", err)
	}
	if err := c.store.BulkUpdate(ctx, store.TableTry, []string{"task_time_running", "hostname"}, tryRows); err != nil {
		c.logDMLError("update reprocessable try batch", err)
	}
}

// runAbnormalFinalizer implements the §4.6 abnormal-exit path: if a
// workflow was ever started but never saw its end message, synthesise the
// completion the workflow-end message would have carried.
func (c *Coordinator) runAbnormalFinalizer(ctx context.Context) {
	if c.workflowStart == nil || c.workflowEnd {
		return
	}
	now := time.Now()
	duration := now.Sub(c.workflowStart.TimeBegan)
	slog.Warn("finalising workflow after abnormal exit",
		"run_id", c.workflowStart.RunID, "workflow_duration", duration)

	row := messages.Row{"run_id": c.workflowStart.RunID, "time_completed": now}
	if err := c.store.BulkUpdate(ctx, store.TableWorkflow, []string{"time_completed"}, []messages.Row{row}); err != nil {
		c.logDMLError("abnormal-exit workflow finalisation", err)
	}
}

func (c *Coordinator) logDMLError(op string, err error) {
	slog.Error("coordinator DML failed", "op", op, "err", err)
}

// promotedRunning is a Fielder synthesising the "running" transition a
// first_msg resource sample implies (spec.md §4.5 step 4): a Status row and
// the Try columns the reprocessable phase updates.
type promotedRunning struct {
	msg *messages.ResourceMessage
}

func (p *promotedRunning) Fields() messages.Row {
	return messages.Row{
		"task_id":           p.msg.TaskID,
		"run_id":            p.msg.RunID,
		"try_id":            p.msg.TryID,
		"task_status_name":  "running",
		"timestamp":         p.msg.Timestamp,
		"task_time_running": p.msg.Timestamp,
		"hostname":          p.msg.Hostname,
	}
}

func taskInfoFielders(items []*messages.TaskInfoMessage) []messages.Fielder {
	out := make([]messages.Fielder, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

func nodeFielders(items []*messages.NodeMessage) []messages.Fielder {
	out := make([]messages.Fielder, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

func resourceFielders(items []*messages.ResourceMessage) []messages.Fielder {
	out := make([]messages.Fielder, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}
