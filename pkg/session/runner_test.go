package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/psantana5/machinist/pkg/logging"
	"github.com/psantana5/machinist/pkg/models"
)

// scriptedExecutor returns a scripted exit status per step name
type scriptedExecutor struct {
	statuses map[string]int   // step name -> exit status
	errs     map[string]error // step name -> transport error
	ran      []string
}

func (s *scriptedExecutor) Run(ctx context.Context, handle *models.ResourceHandle, step models.SessionStep) (int, error) {
	s.ran = append(s.ran, step.Name)
	if err, ok := s.errs[step.Name]; ok {
		return -1, err
	}
	return s.statuses[step.Name], nil
}

func (s *scriptedExecutor) Probe(ctx context.Context, handle *models.ResourceHandle) error {
	return nil
}

func testHandle() *models.ResourceHandle {
	return &models.ResourceHandle{ID: "i-test01", Address: "10.0.0.5", User: "ci"}
}

func quietLogger() *logging.Logger {
	return logging.NewLogger(logging.ERROR, false)
}

func TestRunSequence_AllStepsSucceed(t *testing.T) {
	exec := &scriptedExecutor{statuses: map[string]int{}}
	teardowns := 0
	runner := NewRunner(exec, func(ctx context.Context, h *models.ResourceHandle) error {
		teardowns++
		return nil
	}, quietLogger())

	steps := []models.SessionStep{
		{Name: "build", Command: "make"},
		{Name: "install", Command: "make install"},
	}

	if err := runner.RunSequence(context.Background(), testHandle(), steps); err != nil {
		t.Fatalf("RunSequence failed: %v", err)
	}
	if teardowns != 0 {
		t.Errorf("Teardown must not run on success, ran %d times", teardowns)
	}
	if len(exec.ran) != 2 {
		t.Errorf("Expected 2 steps run, got %v", exec.ran)
	}
}

func TestRunSequence_StopsAtFirstFailure(t *testing.T) {
	exec := &scriptedExecutor{statuses: map[string]int{"s2": 1}}
	teardowns := 0
	runner := NewRunner(exec, func(ctx context.Context, h *models.ResourceHandle) error {
		teardowns++
		return nil
	}, quietLogger())

	steps := []models.SessionStep{
		{Name: "s1", Command: "true"},
		{Name: "s2", Command: "false"},
		{Name: "s3", Command: "true"},
	}

	err := runner.RunSequence(context.Background(), testHandle(), steps)
	if err == nil {
		t.Fatal("Expected step error")
	}

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("Expected *StepError, got %T", err)
	}
	if stepErr.Index != 1 || stepErr.StepName != "s2" || stepErr.ExitStatus != 1 {
		t.Errorf("Unexpected step error: %+v", stepErr)
	}

	// s1 ran, s2 was attempted, s3 never ran
	if len(exec.ran) != 2 || exec.ran[0] != "s1" || exec.ran[1] != "s2" {
		t.Errorf("Expected [s1 s2] run, got %v", exec.ran)
	}
	if teardowns != 1 {
		t.Errorf("Expected teardown invoked exactly once, got %d", teardowns)
	}
}

func TestRunSequence_BuildInstallScenario(t *testing.T) {
	exec := &scriptedExecutor{statuses: map[string]int{"build": 1}}
	teardowns := 0
	runner := NewRunner(exec, func(ctx context.Context, h *models.ResourceHandle) error {
		teardowns++
		return nil
	}, quietLogger())

	steps := []models.SessionStep{
		{Name: "build", Command: "make"},
		{Name: "install", Command: "make install"},
	}

	err := runner.RunSequence(context.Background(), testHandle(), steps)

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("Expected *StepError, got %v", err)
	}
	if stepErr.Index != 0 {
		t.Errorf("Expected failing index 0, got %d", stepErr.Index)
	}
	if stepErr.StepName != "build" {
		t.Errorf("Expected failing step build, got %s", stepErr.StepName)
	}
	if teardowns != 1 {
		t.Errorf("Expected teardown invoked once, got %d", teardowns)
	}
	for _, name := range exec.ran {
		if name == "install" {
			t.Error("install must never run after build failed")
		}
	}
}

func TestRunSequence_BestEffortStepContinues(t *testing.T) {
	exec := &scriptedExecutor{statuses: map[string]int{"report-status": 2}}
	teardowns := 0
	runner := NewRunner(exec, func(ctx context.Context, h *models.ResourceHandle) error {
		teardowns++
		return nil
	}, quietLogger())

	steps := []models.SessionStep{
		{Name: "report-status", Command: "systemctl status foo", BestEffort: true},
		{Name: "deploy", Command: "make deploy"},
	}

	if err := runner.RunSequence(context.Background(), testHandle(), steps); err != nil {
		t.Fatalf("Best-effort failure must not abort the sequence: %v", err)
	}
	if teardowns != 0 {
		t.Errorf("Best-effort failure must not trigger teardown, got %d", teardowns)
	}
	if len(exec.ran) != 2 {
		t.Errorf("Expected both steps run, got %v", exec.ran)
	}
}

func TestRunSequence_TransportError(t *testing.T) {
	exec := &scriptedExecutor{errs: map[string]error{"s1": fmt.Errorf("connection reset")}}
	teardowns := 0
	runner := NewRunner(exec, func(ctx context.Context, h *models.ResourceHandle) error {
		teardowns++
		return nil
	}, quietLogger())

	err := runner.RunSequence(context.Background(), testHandle(), []models.SessionStep{
		{Name: "s1", Command: "true"},
	})

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("Expected *StepError, got %v", err)
	}
	if stepErr.Err == nil {
		t.Error("Expected transport error preserved in StepError")
	}
	if teardowns != 1 {
		t.Errorf("Expected teardown on transport failure, got %d", teardowns)
	}
}

func TestRunSequence_NilTeardown(t *testing.T) {
	exec := &scriptedExecutor{statuses: map[string]int{"s1": 1}}
	runner := NewRunner(exec, nil, quietLogger())

	err := runner.RunSequence(context.Background(), testHandle(), []models.SessionStep{
		{Name: "s1", Command: "false"},
	})
	if err == nil {
		t.Fatal("Expected step error even without a teardown callback")
	}
}
