package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/arhiv/pkg/types"
)

var addCmd = &cobra.Command{
	Use:   "add TYPE JSON",
	Short: "Stage and commit a new document of the given type",
	Long: `JSON is the document's data fields, e.g.:
  arhiv add note '{"title": "shopping list", "body": "eggs, milk"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		docType, rawData := args[0], args[1]

		var data map[string]interface{}
		if err := json.Unmarshal([]byte(rawData), &data); err != nil {
			return fmt.Errorf("parse JSON data: %w", err)
		}

		b, err := openVault(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		tx, err := b.Begin()
		if err != nil {
			return err
		}

		id := uuid.NewString()
		doc := &types.Document{ID: id, DocumentType: docType, Data: data}
		if err := tx.StageNew(doc); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Commit([]string{id}); err != nil {
			return fmt.Errorf("commit: %w", err)
		}

		fmt.Println(id)
		return nil
	},
}

func init() {
	addPasswordFlag(addCmd)
}
