package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/arhiv/pkg/container"
	arhcrypto "github.com/cuemby/arhiv/pkg/crypto"
	"github.com/cuemby/arhiv/pkg/paths"
)

// applyMigrationsCmd is the offline migration runner spec.md §6 expects
// between schema versions (Non-goals explicitly rule out write-time schema
// migration). It rewrites every storage container whose recorded
// data_version lags the CLI's current schemaDataVersion, backing up the
// vault directory first unless --dry-run is given.
var applyMigrationsCmd = &cobra.Command{
	Use:   "apply-migrations",
	Short: "Rewrite storage containers to the CLI's current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		layout, _, err := rootFlags(cmd)
		if err != nil {
			return err
		}
		password, err := resolvePassword(cmd)
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backupPath, _ := cmd.Flags().GetString("backup")

		kf, err := os.Open(layout.KeyFile())
		if err != nil {
			return fmt.Errorf("open key file: %w", err)
		}
		key, err := arhcrypto.OpenKeyFile(kf, password)
		kf.Close()
		if err != nil {
			return err
		}

		entries, err := os.ReadDir(layout.StorageDir())
		if err != nil {
			return fmt.Errorf("list storage directory: %w", err)
		}

		var toMigrate []string
		for _, e := range entries {
			if e.IsDir() || !paths.IsContainerFile(e.Name()) {
				continue
			}
			path := filepath.Join(layout.StorageDir(), e.Name())
			c, err := readContainer(path, key)
			if err != nil {
				fmt.Printf("skip %s: %v\n", e.Name(), err)
				continue
			}
			if c.Info.DataVersion != schemaDataVersion {
				fmt.Printf("%s: data_version %d -> %d (%d entries)\n", e.Name(), c.Info.DataVersion, schemaDataVersion, len(c.Entries))
				toMigrate = append(toMigrate, path)
			}
		}

		if len(toMigrate) == 0 {
			fmt.Println("every container already at the current schema version")
			return nil
		}
		if dryRun {
			fmt.Println("dry run: no changes made")
			return nil
		}

		if backupPath == "" {
			backupPath = layout.Root + ".backup-" + time.Now().UTC().Format("20060102-150405")
		}
		if err := copyDir(layout.Root, backupPath); err != nil {
			return fmt.Errorf("create backup at %s: %w", backupPath, err)
		}
		fmt.Printf("backup written to %s\n", backupPath)

		for _, path := range toMigrate {
			c, err := readContainer(path, key)
			if err != nil {
				return fmt.Errorf("re-read %s: %w", path, err)
			}
			c.Info.DataVersion = schemaDataVersion
			if err := rewriteContainer(path, key, c); err != nil {
				return fmt.Errorf("rewrite %s: %w", path, err)
			}
		}
		fmt.Printf("migrated %d container(s)\n", len(toMigrate))
		return nil
	},
}

func init() {
	addPasswordFlag(applyMigrationsCmd)
	applyMigrationsCmd.Flags().Bool("dry-run", false, "Show what would be migrated without making changes")
	applyMigrationsCmd.Flags().String("backup", "", "Path to back up the vault before migrating (default: <root>.backup-<timestamp>)")
}

func readContainer(path string, key []byte) (*container.Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := arhcrypto.NewReader(f, key)
	if err != nil {
		return nil, err
	}
	return container.ReadAll(r)
}

func rewriteContainer(path string, key []byte, c *container.Container) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".migrate-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := container.Write(tmp, key, c.Info, c.Entries); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
