package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/psantana5/machinist/pkg/logging"
	"github.com/psantana5/machinist/pkg/models"
	"github.com/psantana5/machinist/pkg/provision"
	"github.com/psantana5/machinist/pkg/records"
	"github.com/psantana5/machinist/pkg/retry"
	"github.com/psantana5/machinist/pkg/session"
)

// Config bounds the readiness and reachability polling in Acquire
type Config struct {
	ReadinessAttempts int           // describe polls until running+address
	ReadinessInterval time.Duration //
	ProbeAttempts     int           // management-channel probes
	ProbeInterval     time.Duration // 30 x 5s gives the ~150s ceiling

	User    string // remote user baked into the handle
	KeyPath string // private key path baked into the handle
}

// DefaultConfig matches the polling bounds the operator scripts used
func DefaultConfig() Config {
	return Config{
		ReadinessAttempts: 30,
		ReadinessInterval: 5 * time.Second,
		ProbeAttempts:     30,
		ProbeInterval:     5 * time.Second,
	}
}

// Manager acquires remote machines and owns their teardown. Every acquired
// machine gets an orphan record on disk before anything else happens to it,
// so a controller killed mid-session leaves evidence for the sweeper.
type Manager struct {
	provisioner provision.Provisioner
	executor    session.Executor
	store       *records.Store
	knownHosts  *session.KnownHosts
	config      Config
	logger      *logging.Logger
}

// NewManager creates a lifecycle manager. knownHosts may be nil.
func NewManager(p provision.Provisioner, e session.Executor, store *records.Store, kh *session.KnownHosts, config Config, logger *logging.Logger) *Manager {
	return &Manager{
		provisioner: p,
		executor:    e,
		store:       store,
		knownHosts:  kh,
		config:      config,
		logger:      logger,
	}
}

// Acquire provisions a machine matching spec and blocks until it is running
// and reachable. On success the returned handle has a non-empty address and
// a persisted, locked orphan record. On failure after a successful create,
// the instance is destroyed best-effort and the record removed.
func (mgr *Manager) Acquire(ctx context.Context, spec *models.ResourceSpec) (*models.ResourceHandle, error) {
	if err := spec.Validate(); err != nil {
		return nil, &AcquisitionError{Kind: ProvisioningRejected, Err: err}
	}

	start := time.Now()

	id, err := mgr.provisioner.Create(ctx, spec)
	if err != nil {
		return nil, &AcquisitionError{Kind: ProvisioningRejected, Err: err}
	}

	handle := &models.ResourceHandle{
		ID:        id,
		User:      mgr.config.User,
		KeyPath:   mgr.config.KeyPath,
		CreatedAt: start,
	}

	// Record first, address later. If this process dies while the machine
	// is still booting, the sweeper can still find and destroy it.
	if err := mgr.persistRecord(handle); err != nil {
		mgr.abort(ctx, handle)
		return nil, &AcquisitionError{Kind: ProvisioningRejected, InstanceID: id, Err: err}
	}

	if err := mgr.waitRunning(ctx, handle); err != nil {
		mgr.abort(ctx, handle)
		return nil, &AcquisitionError{Kind: ProvisioningTimeout, InstanceID: id, Err: err}
	}

	// Re-persist now that the address is known
	if err := mgr.persistRecord(handle); err != nil {
		mgr.abort(ctx, handle)
		return nil, &AcquisitionError{Kind: ProvisioningTimeout, InstanceID: id, Err: err}
	}

	if err := mgr.waitReachable(ctx, handle); err != nil {
		mgr.abort(ctx, handle)
		return nil, &AcquisitionError{Kind: ConnectivityTimeout, InstanceID: id, Err: err}
	}

	mgr.logger.Info("Machine acquired", map[string]interface{}{
		"id": id, "address": handle.Address, "elapsed": time.Since(start).String(),
	})
	return handle, nil
}

// Release tears the machine down gracefully and removes its record and
// known-hosts entry. Idempotent: releasing a released handle, or one whose
// instance is already gone, succeeds without a second destroy.
func (mgr *Manager) Release(ctx context.Context, handle *models.ResourceHandle, reason models.ReleaseReason) error {
	return mgr.release(ctx, handle, reason, false)
}

// Terminate is the forced variant used on unrecoverable failure. It does not
// wait for graceful shutdown.
func (mgr *Manager) Terminate(ctx context.Context, handle *models.ResourceHandle) error {
	return mgr.release(ctx, handle, models.ReleaseReasonFailure, true)
}

func (mgr *Manager) release(ctx context.Context, handle *models.ResourceHandle, reason models.ReleaseReason, force bool) error {
	if handle.Released {
		mgr.logger.Debug("Handle already released", map[string]interface{}{"id": handle.ID})
		return nil
	}

	err := mgr.provisioner.Destroy(ctx, handle.ID, force)
	if err != nil && !errors.Is(err, provision.ErrInstanceNotFound) {
		return &ReleaseError{InstanceID: handle.ID, Err: err}
	}

	mgr.cleanupLocalState(handle)
	handle.Released = true

	mgr.logger.Info("Machine released", map[string]interface{}{
		"id": handle.ID, "reason": string(reason), "forced": force,
	})
	return nil
}

// abort is the cleanup path for a failed acquisition: destroy what was
// created and drop the record, best-effort on both sides.
func (mgr *Manager) abort(ctx context.Context, handle *models.ResourceHandle) {
	if err := mgr.provisioner.Destroy(ctx, handle.ID, true); err != nil && !errors.Is(err, provision.ErrInstanceNotFound) {
		mgr.logger.Warn("Failed to destroy instance after aborted acquisition, sweeper will retry", map[string]interface{}{
			"id": handle.ID, "error": err.Error(),
		})
		// Keep the record so the sweeper can finish the job
		return
	}
	mgr.cleanupLocalState(handle)
}

func (mgr *Manager) cleanupLocalState(handle *models.ResourceHandle) {
	if mgr.knownHosts != nil && handle.Address != "" {
		if err := mgr.knownHosts.RemoveHost(handle.Address); err != nil {
			mgr.logger.Warn("Failed to clean known_hosts entry", map[string]interface{}{
				"address": handle.Address, "error": err.Error(),
			})
		}
	}
	if err := mgr.store.Unlock(handle.ID); err != nil {
		mgr.logger.Warn("Failed to remove record lock", map[string]interface{}{"id": handle.ID, "error": err.Error()})
	}
	if err := mgr.store.Remove(handle.ID); err != nil {
		mgr.logger.Warn("Failed to remove orphan record", map[string]interface{}{"id": handle.ID, "error": err.Error()})
	}
}

// persistRecord writes the orphan record and holds its lock for the life of
// the owning process
func (mgr *Manager) persistRecord(handle *models.ResourceHandle) error {
	hostname, _ := os.Hostname()
	record := &models.OrphanRecord{
		ID:        handle.ID,
		Handle:    *handle,
		OwnerPID:  int32(os.Getpid()),
		OwnerHost: hostname,
		CreatedAt: handle.CreatedAt,
	}
	if err := mgr.store.Put(record); err != nil {
		return err
	}
	return mgr.store.Lock(handle.ID)
}

// waitRunning polls the provisioner until the instance reports running with
// an assigned address
func (mgr *Manager) waitRunning(ctx context.Context, handle *models.ResourceHandle) error {
	return retry.Poll(ctx, mgr.config.ReadinessAttempts, mgr.config.ReadinessInterval, func() error {
		inst, err := mgr.provisioner.Describe(ctx, handle.ID)
		if err != nil {
			if errors.Is(err, provision.ErrInstanceNotFound) {
				return fmt.Errorf("instance %s disappeared while booting", handle.ID)
			}
			// Transient describe failures count as not-ready
			return fmt.Errorf("%w: %v", retry.ErrNotReady, err)
		}

		switch inst.Status {
		case models.InstanceStatusError, models.InstanceStatusTerminated:
			return fmt.Errorf("instance %s entered state %q while booting", handle.ID, inst.Status)
		case models.InstanceStatusRunning:
			if inst.Address == "" {
				return fmt.Errorf("%w: running but no address yet", retry.ErrNotReady)
			}
			handle.Address = inst.Address
			return nil
		default:
			return fmt.Errorf("%w: status %q", retry.ErrNotReady, inst.Status)
		}
	})
}

// waitReachable probes the management channel until it answers
func (mgr *Manager) waitReachable(ctx context.Context, handle *models.ResourceHandle) error {
	return retry.Poll(ctx, mgr.config.ProbeAttempts, mgr.config.ProbeInterval, func() error {
		if err := mgr.executor.Probe(ctx, handle); err != nil {
			return fmt.Errorf("%w: %v", retry.ErrNotReady, err)
		}
		return nil
	})
}
