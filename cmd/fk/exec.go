package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec <strategy> [params...]",
	Short: "Execute one strategy against the log",
	Long: `Replay the log, execute the given strategy as the local user and
append it on success.

Example usage:
  fk exec CreateBacklog b1 "Next week"
  fk exec CreateWorkitem w1 b1 "Write the report #writing"
  fk exec StartWork w1 1500 300`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := newFileSource(false)
		if err != nil {
			return err
		}
		defer fs.Close()
		if err := fs.Start(false); err != nil {
			return err
		}
		e := fs.Engine()
		if err := e.Execute(args[0], args[1:]...); err != nil {
			return err
		}
		fmt.Printf("Executed %s, last sequence is now %d\n", args[0], e.LastSeq())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(execCmd)
}
