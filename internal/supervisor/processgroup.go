package supervisor

import (
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"
)

// ProcessGroup runs the whole pipeline as one unit by re-executing the
// current binary once per stage subcommand. It implements Worker, so a
// Supervisor treats the group exactly like a single-stage worker: SIGINT /
// SIGTERM on the parent forwards an interrupt to every child, each child
// drains on its own, and RunLoop returns once all of them have exited.
type ProcessGroup struct {
	stages []string
	log    *zap.Logger
	cmds   []*exec.Cmd
}

// NewProcessGroup constructs a ProcessGroup over the given stage
// subcommands, e.g. extractor1, transformer1, extractor2, transformer2.
func NewProcessGroup(stages []string, log *zap.Logger) *ProcessGroup {
	return &ProcessGroup{stages: stages, log: log}
}

// Setup starts one child process per stage. A start failure interrupts the
// children already running and fails the whole group.
func (g *ProcessGroup) Setup() error {
	for _, stage := range g.stages {
		cmd := exec.Command(os.Args[0], stage)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = os.Environ()
		if err := cmd.Start(); err != nil {
			g.Teardown()
			return fmt.Errorf("supervisor: start stage %s: %w", stage, err)
		}
		g.log.Info("stage process started",
			zap.String("stage", stage),
			zap.Int("pid", cmd.Process.Pid),
		)
		g.cmds = append(g.cmds, cmd)
	}
	return nil
}

// RunLoop joins every child. The first non-zero exit is returned after all
// children have been collected, so a single stage failure never leaves the
// others orphaned and unreaped.
func (g *ProcessGroup) RunLoop() error {
	var firstErr error
	for i, cmd := range g.cmds {
		if err := cmd.Wait(); err != nil {
			g.log.Error("stage process exited with error",
				zap.String("stage", g.stages[i]),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("supervisor: stage %s: %w", g.stages[i], err)
			}
			continue
		}
		g.log.Info("stage process exited", zap.String("stage", g.stages[i]))
	}
	return firstErr
}

// Teardown forwards an interrupt to each child. A child that already exited
// is logged and skipped; its exit status is still collected by RunLoop.
func (g *ProcessGroup) Teardown() {
	for i, cmd := range g.cmds {
		if cmd.Process == nil {
			continue
		}
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			g.log.Info("stage process already gone",
				zap.String("stage", g.stages[i]),
				zap.Error(err),
			)
		}
	}
}
