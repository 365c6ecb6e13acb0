// Command monitordb runs the monitoring database manager as a standalone
// daemon: it wires up the three inbound queues, opens the configured
// store, and drives the coordinator until interrupted.
//
// In production this package is consumed as a library — a workflow engine
// process constructs lifecycle.ExternalQueues itself and calls
// lifecycle.Run directly in-process. This binary exists for standalone
// operation and as a reference for that wiring: it owns the queues itself
// and forwards an OS interrupt to the priority queue's STOP sentinel, the
// same shutdown path a real host process would trigger.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/parsl-go/monitordb/internal/config"
	"github.com/parsl-go/monitordb/internal/lifecycle"
	"github.com/parsl-go/monitordb/internal/messages"
	"github.com/parsl-go/monitordb/internal/telemetry"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "monitordb: %v\n", err)
		os.Exit(1)
	}

	logFile, err := telemetry.Setup(cfg.LogDir, telemetry.ParseLevel(cfg.LogLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "monitordb: failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	priority := make(chan messages.PriorityEnvelope, 1024)
	node := make(chan messages.RawTuple, 1024)
	resource := make(chan messages.RawTuple, 1024)
	errorReports := make(chan messages.ErrorReport, 16)

	go func() {
		<-ctx.Done()
		slog.Info("interrupt received, sending STOP to the priority queue")
		select {
		case priority <- messages.PriorityEnvelope{Stop: true}:
		default:
			slog.Warn("priority queue full while trying to deliver STOP")
		}
	}()

	go func() {
		for report := range errorReports {
			slog.Error("fatal error reported", "source", report.Source, "message", report.Message)
		}
	}()

	slog.Info("monitordb starting", "db_url", cfg.DBURL, "logdir", cfg.LogDir)
	if err := lifecycle.Run(ctx, cfg, lifecycle.ExternalQueues{
		Priority:    priority,
		Node:        node,
		Resource:    resource,
		ErrorReport: errorReports,
	}); err != nil && err != context.Canceled {
		slog.Error("monitordb exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("monitordb stopped")
}
