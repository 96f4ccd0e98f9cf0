package session

import (
	"context"
	"fmt"

	"github.com/psantana5/machinist/pkg/logging"
	"github.com/psantana5/machinist/pkg/models"
)

// StepError identifies the step that aborted a session sequence
type StepError struct {
	Index      int
	StepName   string
	ExitStatus int
	Err        error // transport error, nil for a plain non-zero exit
}

// Error implements error interface
func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("step %d (%s) failed: %v", e.Index, e.StepName, e.Err)
	}
	return fmt.Sprintf("step %d (%s) exited %d", e.Index, e.StepName, e.ExitStatus)
}

// Unwrap implements error unwrapping
func (e *StepError) Unwrap() error {
	return e.Err
}

// TeardownFunc releases the machine after a failed sequence.
// Normally lifecycle.Manager.Terminate wrapped by the caller.
type TeardownFunc func(ctx context.Context, handle *models.ResourceHandle) error

// Runner executes an ordered sequence of remote steps against one machine,
// stopping at the first failing critical step and tearing the machine down
// before surfacing the error.
type Runner struct {
	executor Executor
	teardown TeardownFunc
	logger   *logging.Logger
}

// NewRunner creates a runner. teardown may be nil when the caller handles
// cleanup itself (e.g. --keep mode keeps the machine for inspection).
func NewRunner(executor Executor, teardown TeardownFunc, logger *logging.Logger) *Runner {
	return &Runner{
		executor: executor,
		teardown: teardown,
		logger:   logger,
	}
}

// RunSequence executes steps in order. On the first critical step that fails
// it invokes the teardown callback exactly once and returns a *StepError.
// Best-effort steps log a warning on failure and the sequence continues.
func (r *Runner) RunSequence(ctx context.Context, handle *models.ResourceHandle, steps []models.SessionStep) error {
	for i, step := range steps {
		r.logger.Info("Running step", map[string]interface{}{
			"index": i, "step": step.Name, "host": handle.Address,
		})

		status, err := r.executor.Run(ctx, handle, step)
		if err == nil && status == 0 {
			continue
		}

		if step.BestEffort {
			r.logger.Warn("Best-effort step failed, continuing", map[string]interface{}{
				"step": step.Name, "exit_status": status, "error": errString(err),
			})
			continue
		}

		stepErr := &StepError{Index: i, StepName: step.Name, ExitStatus: status, Err: err}
		r.logger.Error("Step failed, tearing down", map[string]interface{}{
			"step": step.Name, "exit_status": status, "host": handle.Address,
		})

		if r.teardown != nil {
			if terr := r.teardown(ctx, handle); terr != nil {
				r.logger.Error("Teardown after failed step also failed", map[string]interface{}{
					"host": handle.Address, "error": terr.Error(),
				})
			}
		}
		return stepErr
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
