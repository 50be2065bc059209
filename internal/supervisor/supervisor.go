// Package supervisor owns process-lifetime fan-out: it starts every worker
// goroutine, turns the first worker failure or panic into an Action Bus
// event, and reports readiness/stopping to systemd (§4.6).
package supervisor

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/relaymesh/tproxyd/internal/action"
	"github.com/relaymesh/tproxyd/internal/sdnotify"
)

// Worker is one independently-running component. Run is context-free: every
// worker coordinates its own lifecycle exclusively through the Action Bus,
// matching how the UDP and TCP forwarders are driven.
type Worker struct {
	Label string
	Run   func() error
}

// Supervisor starts a fixed set of Workers and joins them, escalating the
// first failure onto the Bus exactly once.
type Supervisor struct {
	Logger *slog.Logger
	Bus    *action.Bus
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return s.Logger
}

type result struct {
	label    string
	err      error
	panicked bool
}

// Run starts every worker in its own goroutine and blocks until all of them
// have returned. The first non-nil error or recovered panic publishes a
// Stop or Panicked action (whichever applies) so every other worker begins
// its own drain; later failures are only logged. Run itself returns the
// first error observed, if any.
func (s *Supervisor) Run(workers []Worker) error {
	results := make(chan result, len(workers))
	var wg sync.WaitGroup
	wg.Add(len(workers))

	for _, w := range workers {
		w := w
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger().Error("supervisor: worker panicked", "worker", w.Label, "panic", r)
					results <- result{label: w.Label, err: fmt.Errorf("worker %s panicked: %v", w.Label, r), panicked: true}
				}
			}()
			err := w.Run()
			results <- result{label: w.Label, err: err}
		}()
	}

	_ = sdnotify.Notify(sdnotify.Ready)
	s.logger().Info("supervisor: all workers started", "count", len(workers))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var firstErr error
	escalated := false
	collected := 0

	for collected < len(workers) {
		r := <-results
		collected++
		if r.err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = r.err
		}
		if escalated {
			s.logger().Error("supervisor: additional worker failure after escalation", "worker", r.label, "err", r.err)
			continue
		}
		escalated = true
		if r.panicked {
			s.Bus.Set(action.Action{Kind: action.Panicked, Label: r.label})
		} else {
			s.logger().Error("supervisor: worker failed, requesting stop", "worker", r.label, "err", r.err)
			s.Bus.Set(action.Action{Kind: action.Stop, Label: r.label})
		}
	}

	<-done
	_ = sdnotify.Notify(sdnotify.Stopping)
	s.logger().Info("supervisor: all workers exited")
	return firstErr
}
