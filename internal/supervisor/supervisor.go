// Package supervisor owns worker lifecycles. A Supervisor runs exactly one
// Worker: it performs setup, drives the worker's loop, and converts SIGINT /
// SIGTERM into a graceful teardown so in-flight work drains before exit.
package supervisor

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// Worker is the unit a Supervisor manages. RunLoop blocks until the worker
// is done or torn down; Teardown must be safe to call more than once and
// from a goroutine other than the one running the loop.
type Worker interface {
	Setup() error
	RunLoop() error
	Teardown()
}

// Supervisor wraps a Worker with signal handling.
type Supervisor struct {
	worker Worker
	log    *zap.Logger
	once   sync.Once
}

// New constructs a Supervisor for the given worker.
func New(worker Worker, log *zap.Logger) *Supervisor {
	return &Supervisor{worker: worker, log: log}
}

// Run executes the worker's full lifecycle. It returns once the loop exits,
// whether through a signal-driven teardown (nil) or a loop failure (the
// loop's error, after teardown).
func (s *Supervisor) Run() error {
	if err := s.worker.Setup(); err != nil {
		return fmt.Errorf("supervisor: setup: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case got := <-sig:
			s.log.Info("signal received, tearing down", zap.String("signal", got.String()))
			s.teardown()
		case <-done:
		}
	}()

	err := s.worker.RunLoop()
	s.teardown()
	if err != nil {
		return fmt.Errorf("supervisor: run loop: %w", err)
	}
	return nil
}

func (s *Supervisor) teardown() {
	s.once.Do(s.worker.Teardown)
}
