package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pipeweld/internal/history"
)

var journalPath string

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect or verify the run journal",
}

var journalInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print journal records",
	RunE: func(_ *cobra.Command, _ []string) error {
		j, err := history.Open(journalPath)
		if err != nil {
			return err
		}
		for _, rec := range j.Records() {
			fmt.Println(rec)
		}
		return nil
	},
}

var journalVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the journal hash chain",
	RunE: func(_ *cobra.Command, _ []string) error {
		j, err := history.Open(journalPath)
		if err != nil {
			return err
		}
		if err := j.Verify(); err != nil {
			return fmt.Errorf("journal verification failed: %w", err)
		}
		fmt.Printf("journal ok (%d records)\n", len(j.Records()))
		return nil
	},
}

func init() {
	journalCmd.PersistentFlags().StringVar(&journalPath, "journal", "./runs/journal.jsonl", "journal file")
	journalCmd.AddCommand(journalInspectCmd)
	journalCmd.AddCommand(journalVerifyCmd)
}
