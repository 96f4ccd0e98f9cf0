package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/machinist/pkg/lifecycle"
	"github.com/psantana5/machinist/pkg/logging"
	"github.com/psantana5/machinist/pkg/models"
	"github.com/psantana5/machinist/pkg/provision"
	"github.com/psantana5/machinist/pkg/records"
	"github.com/psantana5/machinist/pkg/secrets"
	"github.com/psantana5/machinist/pkg/session"
	"github.com/psantana5/machinist/pkg/tracing"
)

var (
	reserveSpecFile    string
	reserveType        string
	reserveImage       string
	reserveRegion      string
	reserveDiskGB      int
	reservePackages    []string
	reserveSSHUser     string
	reserveSSHKey      string
	reservePasswordCmd string
	reserveKeep        bool
)

// reserveCmd represents the reserve command
var reserveCmd = &cobra.Command{
	Use:   "reserve <env>",
	Short: "Provision a machine and run a session against it",
	Long: `Reserve provisions a machine for the given target environment, waits for
it to become reachable over SSH, runs the session steps, and releases the
machine. If any critical step fails the machine is terminated before the
error is reported; pass --keep to leave it up for inspection.

Example:
  machinist reserve ci --type m5.large --image fedora-42 --region eu-west-1
  machinist reserve dev --spec-file machine.yaml --keep`,
	Args: cobra.ExactArgs(1),
	RunE: runReserve,
}

func init() {
	rootCmd.AddCommand(reserveCmd)

	reserveCmd.Flags().StringVar(&reserveSpecFile, "spec-file", "", "YAML file with the machine spec and session steps")
	reserveCmd.Flags().StringVar(&reserveType, "type", "", "machine type (overrides spec file)")
	reserveCmd.Flags().StringVar(&reserveImage, "image", "", "image name (overrides spec file)")
	reserveCmd.Flags().StringVar(&reserveRegion, "region", "", "region (overrides spec file)")
	reserveCmd.Flags().IntVar(&reserveDiskGB, "disk-gb", 0, "root disk size in GB")
	reserveCmd.Flags().StringSliceVar(&reservePackages, "packages", nil, "packages to install after boot")
	reserveCmd.Flags().StringVar(&reserveSSHUser, "ssh-user", "", "remote user (default from config)")
	reserveCmd.Flags().StringVar(&reserveSSHKey, "ssh-key", "", "SSH private key path (default from config)")
	reserveCmd.Flags().StringVar(&reservePasswordCmd, "password-command", "", "command that prints the SSH password (used when no key is set)")
	reserveCmd.Flags().BoolVar(&reserveKeep, "keep", false, "keep the machine after the session (released later by sweep)")
}

func runReserve(cmd *cobra.Command, args []string) error {
	env := args[0]
	ctx := cmd.Context()

	logger := NewLogger().WithField("session", uuid.NewString()[:8])

	spec, steps, err := buildReservation(env)
	if err != nil {
		return err
	}

	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:  "machinist",
		OTLPEndpoint: otlpEndpoint,
		Enabled:      otlpEndpoint != "",
	})
	if err != nil {
		return err
	}
	defer tracer.Shutdown(context.Background())

	store, err := records.NewStore(GetStateDir())
	if err != nil {
		return err
	}

	knownHosts, err := session.DefaultKnownHosts()
	if err != nil {
		logger.Warn("known_hosts cleanup disabled", map[string]interface{}{"error": err.Error()})
		knownHosts = nil
	}

	executor := session.NewSSHExecutor(logger)
	if reservePasswordCmd != "" {
		password, err := secrets.FromCommand(ctx, reservePasswordCmd)
		if err != nil {
			return err
		}
		executor.Password = password
	}

	config := lifecycle.DefaultConfig()
	config.User = sshUser()
	config.KeyPath = sshKey()

	provisioner := provision.NewCLI(GetProvisionerBin(), logger)
	manager := lifecycle.NewManager(provisioner, executor, store, knownHosts, config, logger)

	acqCtx, acqSpan := tracer.StartAcquisition(ctx, spec.MachineType, spec.Region)
	handle, err := manager.Acquire(acqCtx, spec)
	tracing.EndSpan(acqSpan, err)
	if err != nil {
		return err
	}

	sessCtx, sessSpan := tracer.StartSession(ctx, handle.ID, len(steps))
	runner := session.NewRunner(executor, sessionTeardown(manager, reserveKeep), logger)
	err = runner.RunSequence(sessCtx, handle, steps)
	tracing.EndSpan(sessSpan, err)
	if err != nil {
		var stepErr *session.StepError
		if errors.As(err, &stepErr) {
			outcome := "machine terminated"
			if reserveKeep {
				outcome = "machine kept for inspection"
			}
			fmt.Fprintf(os.Stderr, "Session failed at step %q (index %d, exit %d); %s\n",
				stepErr.StepName, stepErr.Index, stepErr.ExitStatus, outcome)
		}
		if reserveKeep {
			keepMachine(store, handle, logger)
		}
		return err
	}

	if reserveKeep {
		keepMachine(store, handle, logger)
		return nil
	}

	return manager.Release(ctx, handle, models.ReleaseReasonUser)
}

// sessionTeardown picks the teardown for a failing critical step: terminate
// normally, nothing in keep mode, where the machine stays up for inspection.
func sessionTeardown(manager *lifecycle.Manager, keep bool) session.TeardownFunc {
	if keep {
		return nil
	}
	return manager.Terminate
}

// keepMachine drops the record lock so the sweeper may reclaim the machine
// once it crosses the staleness threshold, and tells the operator where it is
func keepMachine(store *records.Store, handle *models.ResourceHandle, logger *logging.Logger) {
	if err := store.Unlock(handle.ID); err != nil {
		logger.Warn("Failed to unlock record", map[string]interface{}{"id": handle.ID, "error": err.Error()})
	}
	fmt.Printf("Machine kept: %s (%s), record %s\n", handle.ID, handle.Address, handle.ID)
}

// buildReservation merges the spec file and flags into the final spec and
// step list for the target environment
func buildReservation(env string) (*models.ResourceSpec, []models.SessionStep, error) {
	spec := &models.ResourceSpec{}
	var steps []models.SessionStep

	if reserveSpecFile != "" {
		sf, err := models.LoadSpecFile(reserveSpecFile)
		if err != nil {
			return nil, nil, err
		}
		spec = &sf.Spec
		steps = sf.Steps
	}

	if reserveType != "" {
		spec.MachineType = reserveType
	}
	if reserveImage != "" {
		spec.Image = reserveImage
	}
	if reserveRegion != "" {
		spec.Region = reserveRegion
	}
	if reserveDiskGB > 0 {
		spec.DiskGB = reserveDiskGB
	}
	if len(reservePackages) > 0 {
		spec.Packages = append(spec.Packages, reservePackages...)
	}
	if spec.Labels == nil {
		spec.Labels = map[string]string{}
	}
	spec.Labels["machinist-env"] = env

	if err := spec.Validate(); err != nil {
		return nil, nil, err
	}

	if len(steps) == 0 {
		steps = defaultSteps(spec)
	}
	return spec, steps, nil
}

// defaultSteps is the session used when the spec file has no steps: report
// the host, install the requested packages. The host report is best-effort;
// a machine that cannot print uname can still run its session.
func defaultSteps(spec *models.ResourceSpec) []models.SessionStep {
	steps := []models.SessionStep{
		{Name: "host-info", Command: "uname -a && uptime", BestEffort: true},
	}
	if len(spec.Packages) > 0 {
		steps = append(steps, models.SessionStep{
			Name:    "install-packages",
			Command: "sudo dnf install -y " + strings.Join(spec.Packages, " "),
		})
	}
	return steps
}

func sshUser() string {
	if reserveSSHUser != "" {
		return reserveSSHUser
	}
	return viper.GetString("ssh_user")
}

func sshKey() string {
	if reserveSSHKey != "" {
		return reserveSSHKey
	}
	return viper.GetString("ssh_key")
}
