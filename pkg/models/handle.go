package models

import (
	"fmt"
	"time"
)

// ResourceSpec describes the machine to provision
type ResourceSpec struct {
	MachineType string            `json:"machine_type" yaml:"machine_type"`
	Image       string            `json:"image" yaml:"image"`
	Region      string            `json:"region" yaml:"region"`
	DiskGB      int               `json:"disk_gb,omitempty" yaml:"disk_gb,omitempty"`
	Packages    []string          `json:"packages,omitempty" yaml:"packages,omitempty"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Validate checks that the spec has the fields provisioning cannot default
func (s *ResourceSpec) Validate() error {
	if s.MachineType == "" {
		return fmt.Errorf("resource spec: machine_type is required")
	}
	if s.Image == "" {
		return fmt.Errorf("resource spec: image is required")
	}
	if s.Region == "" {
		return fmt.Errorf("resource spec: region is required")
	}
	return nil
}

// InstanceStatus represents the provisioner-reported state of an instance
type InstanceStatus string

const (
	InstanceStatusPending    InstanceStatus = "pending"
	InstanceStatusRunning    InstanceStatus = "running"
	InstanceStatusTerminated InstanceStatus = "terminated"
	InstanceStatusError      InstanceStatus = "error"
)

// ResourceHandle is an opaque reference to a provisioned remote machine.
// It is created by lifecycle.Manager.Acquire and owned exclusively by the
// caller until Release or Terminate invalidates it.
type ResourceHandle struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	User      string    `json:"user,omitempty"`
	KeyPath   string    `json:"key_path,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// Released marks the handle invalid. Set by the lifecycle manager so
	// a second Release of the same handle is a no-op.
	Released bool `json:"released,omitempty"`
}

// Target returns the user@address form used by the remote channel
func (h *ResourceHandle) Target() string {
	if h.User == "" {
		return h.Address
	}
	return h.User + "@" + h.Address
}

// ReleaseReason distinguishes why a resource is being torn down
type ReleaseReason string

const (
	ReleaseReasonUser     ReleaseReason = "user"     // operator asked for it
	ReleaseReasonFailure  ReleaseReason = "failure"  // a session step or acquisition failed
	ReleaseReasonOrphaned ReleaseReason = "orphaned" // swept after the staleness threshold
)
