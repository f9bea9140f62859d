package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/arhiv/pkg/baza"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new vault at --root",
	Long: `Initialize a brand new Arhiv vault: mints an instance id, wraps a
fresh long-term key under the given password, and writes an empty state.
Fails if a vault already exists at --root.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		layout, cfg, err := rootFlags(cmd)
		if err != nil {
			return err
		}
		password, err := resolvePassword(cmd)
		if err != nil {
			return err
		}

		b, err := baza.CreateWithParams(layout, password, defaultSchema(), schemaDataVersion, cfg.ScryptParams())
		if err != nil {
			return fmt.Errorf("create vault: %w", err)
		}
		defer b.Close()

		fmt.Printf("vault created at %s\ninstance id: %s\n", layout.Root, b.InstanceID)
		return nil
	},
}

func init() {
	addPasswordFlag(initCmd)
}
