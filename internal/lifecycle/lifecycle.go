// Package lifecycle implements the Lifecycle (C6) component: startup
// sequencing, intake worker supervision, and handing control to the
// coordinator until shutdown drains every queue.
package lifecycle

import (
	"context"
	"log/slog"

	"github.com/parsl-go/monitordb/internal/config"
	"github.com/parsl-go/monitordb/internal/coordinator"
	"github.com/parsl-go/monitordb/internal/ingest"
	"github.com/parsl-go/monitordb/internal/messages"
	"github.com/parsl-go/monitordb/internal/opsview"
	"github.com/parsl-go/monitordb/internal/store"
)

// ExternalQueues are the producer-facing channels the host process (or, in
// a test, a synthetic workload) writes to. Run owns reading from these via
// the intake workers for its entire lifetime.
type ExternalQueues struct {
	Priority <-chan messages.PriorityEnvelope
	Node     <-chan messages.RawTuple
	Resource <-chan messages.RawTuple

	// ErrorReport is the host-supplied exception queue (spec.md §6). Run
	// pushes an ErrorReport onto it, non-blockingly, when store.Open fails
	// or the coordinator returns an error other than context.Canceled. A
	// panic in the coordinator (an unknown priority Kind) is not reported
	// here. Optional — leave nil if the host doesn't want them.
	ErrorReport chan<- messages.ErrorReport
}

// reportError delivers err to external.ErrorReport without blocking Run's
// own exit — the host is expected to keep the queue drained, but a full or
// absent queue must never hold up shutdown, matching the fire-and-forget
// exception_q.put(("DBM", str(e))) the original db_manager.py does on its
// own fatal paths.
func reportError(external ExternalQueues, err error) {
	if external.ErrorReport == nil || err == nil {
		return
	}
	select {
	case external.ErrorReport <- messages.ErrorReport{Source: "DBM", Message: err.Error()}:
	default:
		slog.Warn("error-report queue full, dropping report", "err", err)
	}
}

// Run performs the full startup sequence spec.md §4.6 describes — open the
// store (which creates tables), spawn the three intake workers, enter the
// coordinator loop — and blocks until the coordinator returns, which
// happens once shutdown is signalled and every queue is empty, or ctx is
// cancelled.
func Run(ctx context.Context, cfg *config.Config, external ExternalQueues) error {
	adapter, err := store.Open(ctx, cfg.DBURL)
	if err != nil {
		reportError(external, err)
		return err
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			slog.Error("failed to close store", "err", err)
		}
	}()
	slog.Info("store opened", "dialect", adapter.DialectName(), "db_url", cfg.DBURL)

	shutdown := &ingest.ShutdownFlag{}

	priorityInternal := make(chan messages.PriorityEnvelope, 1024)
	nodeInternal := make(chan *messages.NodeMessage, 1024)
	resourceInternal := make(chan *messages.ResourceMessage, 1024)

	var hb coordinator.Heartbeat
	if cfg.OpsAddr != "" {
		srv := opsview.New(cfg.OpsAddr)
		hb = srv
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("ops heartbeat server stopped", "err", err)
			}
		}()
	}

	go ingest.RunPriorityWorker(ctx, shutdown, external.Priority, priorityInternal)
	go ingest.RunNodeWorker(ctx, shutdown, external.Node, nodeInternal)
	go ingest.RunResourceWorker(ctx, shutdown, external.Resource, resourceInternal)

	coord := coordinator.New(adapter, shutdown, coordinator.Config{
		BatchInterval:  cfg.BatchInterval,
		BatchThreshold: cfg.BatchThreshold,
	}, coordinator.Queues{
		PriorityExternal: external.Priority,
		PriorityInternal: priorityInternal,
		NodeExternal:     external.Node,
		NodeInternal:     nodeInternal,
		ResourceExternal: external.Resource,
		ResourceInternal: resourceInternal,
	}, hb)

	slog.Info("coordinator starting",
		"batch_interval", cfg.BatchInterval, "batch_threshold", cfg.BatchThreshold)
	err = coord.Run(ctx)
	if err != nil && err != context.Canceled {
		reportError(external, err)
	}
	return err
}
