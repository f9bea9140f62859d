package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/arhiv/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault summary: document count, conflicts, instance id",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openVault(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		conn := b.Connect()
		ids := conn.ListDocuments()

		var conflicts int
		for _, id := range ids {
			if head := conn.Head(id); head != nil && head.Kind == types.HeadConflict {
				conflicts++
			}
		}

		lastSync, _ := b.State.KVGet("_system", "last_sync_time")
		if lastSync == nil {
			lastSync = "never"
		}

		fmt.Printf("instance id:   %s\n", b.InstanceID)
		fmt.Printf("vault root:    %s\n", b.Layout.Root)
		fmt.Printf("documents:     %d\n", len(ids))
		fmt.Printf("conflicts:     %d\n", conflicts)
		fmt.Printf("last sync:     %v\n", lastSync)
		return nil
	},
}

func init() {
	addPasswordFlag(statusCmd)
}
