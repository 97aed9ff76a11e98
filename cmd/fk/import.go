package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowkeeper-org/fk-engine/internal/codec"
	"github.com/flowkeeper-org/fk-engine/internal/transfer"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import history from an exported file",
	Long: `Apply an exported file to the log. The default mode replays it
as-is onto the local user. With --merge the file is reconciled into the
tree instead: nothing local is ever deleted, renames follow the later
modification date, and pomodoro counts settle on the maximum of the two
sides.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		merge, _ := cmd.Flags().GetBool("merge")
		passphrase, _ := cmd.Flags().GetString("decrypt-passphrase")

		fs, err := newFileSource(false)
		if err != nil {
			return err
		}
		defer fs.Close()
		if err := fs.Start(false); err != nil {
			return err
		}

		cdc := codec.Codec(codec.Plain{})
		if passphrase != "" {
			if cdc, err = codec.NewAES(passphrase); err != nil {
				return err
			}
		}
		src, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer src.Close()

		applied, err := transfer.Import(fs.Engine(), src, transfer.ImportOptions{
			Merge:        merge,
			IgnoreErrors: settings.IgnoreErrors,
			Codec:        cdc,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d strategies from %s\n", applied, args[0])
		return nil
	},
}

func init() {
	importCmd.Flags().Bool("merge", false, "Reconcile the file into the tree without deleting anything")
	importCmd.Flags().String("decrypt-passphrase", "", "Decrypt the imported lines with this passphrase")
	rootCmd.AddCommand(importCmd)
}
