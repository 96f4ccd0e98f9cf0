package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/machinist/pkg/records"
)

// recordsCmd represents the records command
var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect outstanding orphan records",
	Long:  `Commands for listing and inspecting the on-disk records of machines that have been reserved but not yet released.`,
}

// recordsListCmd represents the records list command
var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all outstanding records",
	RunE:  runRecordsList,
}

// recordsShowCmd represents the records show command
var recordsShowCmd = &cobra.Command{
	Use:   "show <record-id>",
	Short: "Show one record in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsShow,
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsShowCmd)
}

func runRecordsList(cmd *cobra.Command, args []string) error {
	store, err := records.NewStore(GetStateDir())
	if err != nil {
		return err
	}

	recs, err := store.List()
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(recs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	if len(recs) == 0 {
		fmt.Println("No outstanding records")
		return nil
	}

	now := time.Now()
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Address", "Age", "Owner PID", "Held")

	for _, rec := range recs {
		held := "no"
		if store.Held(rec) {
			held = "yes"
		}
		table.Append(
			rec.ID,
			rec.Handle.Address,
			rec.Age(now).Round(time.Second).String(),
			fmt.Sprintf("%d", rec.OwnerPID),
			held,
		)
	}

	table.Render()
	fmt.Printf("\nTotal records: %d\n", len(recs))
	return nil
}

func runRecordsShow(cmd *cobra.Command, args []string) error {
	store, err := records.NewStore(GetStateDir())
	if err != nil {
		return err
	}

	rec, err := store.Get(args[0])
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Property", "Value")

	table.Append([]string{"Record ID", rec.ID})
	table.Append([]string{"Instance ID", rec.Handle.ID})
	table.Append([]string{"Address", rec.Handle.Address})
	table.Append([]string{"User", rec.Handle.User})
	table.Append([]string{"Key Path", rec.Handle.KeyPath})
	table.Append([]string{"Created", rec.CreatedAt.Format(time.RFC3339)})
	table.Append([]string{"Age", rec.Age(time.Now()).Round(time.Second).String()})
	table.Append([]string{"Owner PID", fmt.Sprintf("%d", rec.OwnerPID)})
	table.Append([]string{"Owner Host", rec.OwnerHost})
	if store.Held(rec) {
		table.Append([]string{"Held", "yes"})
	} else {
		table.Append([]string{"Held", "no"})
	}

	table.Render()
	return nil
}
