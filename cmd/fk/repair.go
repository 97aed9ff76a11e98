package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair a damaged log",
	Long: `Salvage a damaged log: drop unparseable lines and duplicates,
create missing entities at first reference, renumber, and remove the
strategies that still fail replay. The original file is kept as a
timestamped backup; a clean log is left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := newFileSource(false)
		if err != nil {
			return err
		}
		defer fs.Close()

		changes, err := fs.Repair()
		for _, change := range changes {
			fmt.Println(change)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(repairCmd)
}
