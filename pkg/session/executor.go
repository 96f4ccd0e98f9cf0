package session

import (
	"context"

	"github.com/psantana5/machinist/pkg/models"
)

// Executor is the remote execution channel for an acquired machine.
// The production implementation runs commands over SSH; tests use a fake.
type Executor interface {
	// Run executes one step on the machine and returns the remote exit
	// status. err is non-nil only for transport failures; a command that
	// ran and exited non-zero returns (status, nil).
	Run(ctx context.Context, handle *models.ResourceHandle, step models.SessionStep) (int, error)

	// Probe checks that the machine's management channel is reachable
	Probe(ctx context.Context, handle *models.ResourceHandle) error
}
