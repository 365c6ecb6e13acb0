package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/parsl-go/monitordb/internal/messages"
)

// ShutdownFlag is the cooperative stop signal every intake worker polls.
// It is set once, by the lifecycle's STOP handling, and never cleared.
type ShutdownFlag struct {
	flag atomic.Bool
}

// Trigger marks the flag set. Safe to call more than once.
func (s *ShutdownFlag) Trigger() {
	s.flag.Store(true)
}

// IsSet reports whether Trigger has been called.
func (s *ShutdownFlag) IsSet() bool {
	return s.flag.Load()
}

// RunPriorityWorker drains the external priority queue into internal,
// forwarding every envelope unchanged. Seeing Stop trips shutdown but does
// not itself end the loop — the worker only exits once the shutdown flag is
// set AND external is observed empty, matching every other intake worker's
// termination rule (spec.md §4.3).
func RunPriorityWorker(ctx context.Context, shutdown *ShutdownFlag, external <-chan messages.PriorityEnvelope, internal chan<- messages.PriorityEnvelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-external:
			if !ok {
				return
			}
			if env.Stop {
				shutdown.Trigger()
			}
			internal <- env
		case <-time.After(pollTimeout):
			if shutdown.IsSet() && len(external) == 0 {
				return
			}
		}
	}
}

// RunNodeWorker drains the external node queue, unwraps each RawTuple's
// payload, and forwards it to internal. A tuple whose last element is not a
// *NodeMessage is logged and dropped rather than treated as fatal — unlike
// the priority queue's unknown-tag case, spec.md §4.3 has no failure mode
// defined for this stream.
func RunNodeWorker(ctx context.Context, shutdown *ShutdownFlag, external <-chan messages.RawTuple, internal chan<- *messages.NodeMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case tuple, ok := <-external:
			if !ok {
				return
			}
			last, ok := messages.LastElement(tuple)
			if !ok {
				continue
			}
			msg, ok := last.(*messages.NodeMessage)
			if !ok {
				slog.Warn("node queue: dropping tuple with unexpected payload type", "type", typeName(last))
				continue
			}
			internal <- msg
		case <-time.After(pollTimeout):
			if shutdown.IsSet() && len(external) == 0 {
				return
			}
		}
	}
}

// RunResourceWorker is RunNodeWorker's twin for the resource stream.
func RunResourceWorker(ctx context.Context, shutdown *ShutdownFlag, external <-chan messages.RawTuple, internal chan<- *messages.ResourceMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case tuple, ok := <-external:
			if !ok {
				return
			}
			last, ok := messages.LastElement(tuple)
			if !ok {
				continue
			}
			msg, ok := last.(*messages.ResourceMessage)
			if !ok {
				slog.Warn("resource queue: dropping tuple with unexpected payload type", "type", typeName(last))
				continue
			}
			internal <- msg
		case <-time.After(pollTimeout):
			if shutdown.IsSet() && len(external) == 0 {
				return
			}
		}
	}
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
