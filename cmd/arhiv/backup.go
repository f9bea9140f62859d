package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup [DEST]",
	Short: "Copy the entire vault directory to DEST",
	Long: `Backs up both the synchronized storage dir and the private state
dir verbatim. The result is itself a valid vault: opening it with the same
password works without any repair step.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		layout, _, err := rootFlags(cmd)
		if err != nil {
			return err
		}
		dest := ""
		if len(args) == 1 {
			dest = args[0]
		} else {
			dest = layout.Root + ".backup-" + time.Now().UTC().Format("20060102-150405")
		}
		if err := copyDir(layout.Root, dest); err != nil {
			return fmt.Errorf("backup vault: %w", err)
		}
		fmt.Println(dest)
		return nil
	},
}

// copyDir recursively copies src to dst, preserving the lock file's
// contents but never its lock state (a fresh os.Open at the destination
// starts unlocked).
func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
