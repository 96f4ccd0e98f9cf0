package lifecycle

import "fmt"

// AcquisitionErrorKind categorizes why an acquisition failed
type AcquisitionErrorKind int

const (
	// ProvisioningRejected: the provisioner refused the create request
	ProvisioningRejected AcquisitionErrorKind = iota
	// ProvisioningTimeout: the instance never reported running with an address
	ProvisioningTimeout
	// ConnectivityTimeout: the instance ran but the management channel never answered
	ConnectivityTimeout
)

func (k AcquisitionErrorKind) String() string {
	switch k {
	case ProvisioningRejected:
		return "provisioning_rejected"
	case ProvisioningTimeout:
		return "provisioning_timeout"
	case ConnectivityTimeout:
		return "connectivity_timeout"
	default:
		return "unknown"
	}
}

// AcquisitionError wraps an Acquire failure with its phase
type AcquisitionError struct {
	Kind       AcquisitionErrorKind
	InstanceID string // empty when the create itself was rejected
	Err        error
}

// Error implements error interface
func (e *AcquisitionError) Error() string {
	if e.InstanceID != "" {
		return fmt.Sprintf("acquisition failed (%s) for instance %s: %v", e.Kind, e.InstanceID, e.Err)
	}
	return fmt.Sprintf("acquisition failed (%s): %v", e.Kind, e.Err)
}

// Unwrap implements error unwrapping
func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// ReleaseError wraps a teardown failure. "Instance already gone" is not a
// ReleaseError; the manager treats it as success.
type ReleaseError struct {
	InstanceID string
	Err        error
}

// Error implements error interface
func (e *ReleaseError) Error() string {
	return fmt.Sprintf("release of instance %s failed: %v", e.InstanceID, e.Err)
}

// Unwrap implements error unwrapping
func (e *ReleaseError) Unwrap() error {
	return e.Err
}
