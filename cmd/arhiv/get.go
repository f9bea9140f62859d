package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Print a document's current snapshot as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openVault(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		doc, err := b.Connect().GetDocument(args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	},
}

func init() {
	addPasswordFlag(getCmd)
}
