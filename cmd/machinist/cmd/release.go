package cmd

import (
	"github.com/spf13/cobra"

	"github.com/psantana5/machinist/pkg/lifecycle"
	"github.com/psantana5/machinist/pkg/models"
	"github.com/psantana5/machinist/pkg/provision"
	"github.com/psantana5/machinist/pkg/records"
	"github.com/psantana5/machinist/pkg/session"
)

var releaseForce bool

// releaseCmd represents the release command
var releaseCmd = &cobra.Command{
	Use:   "release <record-id>",
	Short: "Release a reserved machine by its record ID",
	Long: `Release tears down the machine behind an outstanding orphan record and
removes the record. A machine that is already gone counts as released.`,
	Args: cobra.ExactArgs(1),
	RunE: runRelease,
}

func init() {
	rootCmd.AddCommand(releaseCmd)
	releaseCmd.Flags().BoolVar(&releaseForce, "force", false, "skip graceful shutdown")
}

func runRelease(cmd *cobra.Command, args []string) error {
	logger := NewLogger()

	store, err := records.NewStore(GetStateDir())
	if err != nil {
		return err
	}

	record, err := store.Get(args[0])
	if err != nil {
		return err
	}

	knownHosts, err := session.DefaultKnownHosts()
	if err != nil {
		knownHosts = nil
	}

	provisioner := provision.NewCLI(GetProvisionerBin(), logger)
	manager := lifecycle.NewManager(provisioner, session.NewSSHExecutor(logger), store, knownHosts,
		lifecycle.DefaultConfig(), logger)

	handle := record.Handle
	handle.Released = false
	if releaseForce {
		return manager.Terminate(cmd.Context(), &handle)
	}
	return manager.Release(cmd.Context(), &handle, models.ReleaseReasonUser)
}
