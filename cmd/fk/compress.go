package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var compressCmd = &cobra.Command{
	Use:   "compress",
	Short: "Rewrite the log as the minimal equivalent strategy list",
	Long: `Replace the log with the shortest strategy list that recreates the
current tree, dropping the run/void history of individual pomodoros.
The original file is kept as a timestamped backup. Nothing happens when
the log is already minimal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := newFileSource(false)
		if err != nil {
			return err
		}
		defer fs.Close()
		if err := fs.Start(false); err != nil {
			return err
		}

		backup, err := fs.Compress()
		if err != nil {
			return err
		}
		if backup == "" {
			fmt.Println("The log is already minimal")
			return nil
		}
		fmt.Printf("Compressed the log, the original is kept at %s\n", backup)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(compressCmd)
}
