package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/psantana5/machinist/pkg/lifecycle"
	"github.com/psantana5/machinist/pkg/logging"
	"github.com/psantana5/machinist/pkg/models"
	"github.com/psantana5/machinist/pkg/provision"
	"github.com/psantana5/machinist/pkg/records"
	"github.com/psantana5/machinist/pkg/session"
)

// recordingProvisioner counts destroys; create/describe are canned
type recordingProvisioner struct {
	destroys   int
	destroyErr error
}

func (p *recordingProvisioner) Create(ctx context.Context, spec *models.ResourceSpec) (string, error) {
	return "i-test01", nil
}

func (p *recordingProvisioner) Describe(ctx context.Context, id string) (*provision.Instance, error) {
	return &provision.Instance{ID: id, Status: models.InstanceStatusRunning, Address: "10.0.0.5"}, nil
}

func (p *recordingProvisioner) Destroy(ctx context.Context, id string, force bool) error {
	p.destroys++
	return p.destroyErr
}

// failingExecutor fails every step with exit 1
type failingExecutor struct{}

func (failingExecutor) Run(ctx context.Context, handle *models.ResourceHandle, step models.SessionStep) (int, error) {
	return 1, nil
}

func (failingExecutor) Probe(ctx context.Context, handle *models.ResourceHandle) error {
	return nil
}

func testManager(t *testing.T, prov *recordingProvisioner) *lifecycle.Manager {
	t.Helper()
	store, err := records.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	logger := logging.NewLogger(logging.ERROR, false)
	return lifecycle.NewManager(prov, failingExecutor{}, store, nil, lifecycle.DefaultConfig(), logger)
}

func TestReserveKeep_FailingStepDoesNotTerminate(t *testing.T) {
	prov := &recordingProvisioner{}
	manager := testManager(t, prov)
	logger := logging.NewLogger(logging.ERROR, false)

	handle := &models.ResourceHandle{ID: "i-test01", Address: "10.0.0.5"}
	steps := []models.SessionStep{{Name: "build", Command: "make"}}

	runner := session.NewRunner(failingExecutor{}, sessionTeardown(manager, true), logger)
	err := runner.RunSequence(context.Background(), handle, steps)

	var stepErr *session.StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("Expected *StepError, got %v", err)
	}
	if prov.destroys != 0 {
		t.Errorf("Keep mode must leave the machine up after a failed step, got %d destroys", prov.destroys)
	}
}

func TestReserve_FailingStepTerminatesWithoutKeep(t *testing.T) {
	prov := &recordingProvisioner{}
	manager := testManager(t, prov)
	logger := logging.NewLogger(logging.ERROR, false)

	handle := &models.ResourceHandle{ID: "i-test01", Address: "10.0.0.5"}
	steps := []models.SessionStep{{Name: "build", Command: "make"}}

	runner := session.NewRunner(failingExecutor{}, sessionTeardown(manager, false), logger)
	if err := runner.RunSequence(context.Background(), handle, steps); err == nil {
		t.Fatal("Expected step error")
	}
	if prov.destroys != 1 {
		t.Errorf("Expected the failed session to terminate the machine, got %d destroys", prov.destroys)
	}
}
