package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowkeeper-org/fk-engine/internal/codec"
	"github.com/flowkeeper-org/fk-engine/internal/transfer"
)

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export history to a file another instance can import",
	Long: `Write the log's history to a file. With --compress the export is
the minimal strategy list recreating the current tree instead of the
full history. With --encrypt-passphrase the exported lines are
encrypted regardless of how the local log is stored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		compress, _ := cmd.Flags().GetBool("compress")
		passphrase, _ := cmd.Flags().GetString("encrypt-passphrase")

		fs, err := newFileSource(false)
		if err != nil {
			return err
		}
		defer fs.Close()
		if err := fs.Start(false); err != nil {
			return err
		}

		out := codec.Codec(codec.Plain{})
		if passphrase != "" {
			if out, err = codec.NewAES(passphrase); err != nil {
				return err
			}
		}
		in, err := buildCodec()
		if err != nil {
			return err
		}

		var history *os.File
		if !compress {
			if history, err = os.Open(settings.DataFile); err != nil {
				return err
			}
			defer history.Close()
		}
		dest, err := os.Create(args[0])
		if err != nil {
			return err
		}
		defer dest.Close()

		n, err := transfer.Export(fs.Engine(), history, dest, transfer.ExportOptions{
			Compress:   compress,
			Codec:      out,
			InputCodec: in,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Exported %d strategies to %s\n", n, args[0])
		return nil
	},
}

func init() {
	exportCmd.Flags().Bool("compress", false, "Export the minimal strategy list instead of the full history")
	exportCmd.Flags().String("encrypt-passphrase", "", "Encrypt the exported lines with this passphrase")
	rootCmd.AddCommand(exportCmd)
}
