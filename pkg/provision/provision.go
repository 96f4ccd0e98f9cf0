package provision

import (
	"context"
	"errors"

	"github.com/psantana5/machinist/pkg/models"
)

// Instance is the provisioner's view of a machine
type Instance struct {
	ID      string                `json:"id"`
	Status  models.InstanceStatus `json:"status"`
	Address string                `json:"address,omitempty"`
	Region  string                `json:"region,omitempty"`
}

// ErrInstanceNotFound is returned by Describe and Destroy when the instance
// no longer exists. Callers tearing a machine down treat it as success: the
// desired end state is already reached.
var ErrInstanceNotFound = errors.New("instance not found")

// Provisioner abstracts the machine-provisioning backend.
// The production implementation shells out to a provisioning CLI; tests use
// an in-memory fake.
type Provisioner interface {
	// Create requests a new machine matching spec and returns its ID.
	// The machine is usually still booting when Create returns.
	Create(ctx context.Context, spec *models.ResourceSpec) (string, error)

	// Describe reports current status and address of a machine
	Describe(ctx context.Context, id string) (*Instance, error)

	// Destroy tears a machine down. force skips graceful shutdown.
	Destroy(ctx context.Context, id string, force bool) error
}
