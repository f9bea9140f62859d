package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cuemby/arhiv/pkg/baza"
	"github.com/cuemby/arhiv/pkg/config"
	"github.com/cuemby/arhiv/pkg/paths"
)

// passwordEnvVar is read when --password is not given, so scripted use
// never needs the password on argv where `ps` could see it.
const passwordEnvVar = "ARHIV_PASSWORD"

func rootFlags(cmd *cobra.Command) (layout paths.Layout, cfg config.Config, err error) {
	root, _ := cmd.Root().PersistentFlags().GetString("root")
	dev, _ := cmd.Root().PersistentFlags().GetBool("dev")
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath == "" {
		configPath = filepath.Join(root, config.DefaultFileName)
	}
	cfg, err = config.Load(configPath)
	if err != nil {
		return paths.Layout{}, config.Config{}, err
	}
	if dev {
		cfg.Dev = true
	}
	return paths.New(root, cfg.Dev), cfg, nil
}

func resolvePassword(cmd *cobra.Command) (string, error) {
	password, _ := cmd.Flags().GetString("password")
	if password != "" {
		return password, nil
	}
	if password := os.Getenv(passwordEnvVar); password != "" {
		return password, nil
	}
	return "", fmt.Errorf("no password given: pass --password or set %s", passwordEnvVar)
}

func openVault(cmd *cobra.Command) (*baza.Baza, error) {
	layout, cfg, err := rootFlags(cmd)
	if err != nil {
		return nil, err
	}
	password, err := resolvePassword(cmd)
	if err != nil {
		return nil, err
	}
	return baza.Open(layout, password, defaultSchema(), schemaDataVersion)
}

func addPasswordFlag(cmd *cobra.Command) {
	cmd.Flags().String("password", "", "Vault password (or set "+passwordEnvVar+")")
}
