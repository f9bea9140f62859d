package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cuemby/arhiv/pkg/config"
	"github.com/cuemby/arhiv/pkg/health"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or edit arhiv.yaml",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := rootFlags(cmd)
		if err != nil {
			return err
		}
		fmt.Printf("peers: %v\n", cfg.Peers)
		fmt.Printf("dev: %v\n", cfg.Dev)
		params := cfg.ScryptParams()
		fmt.Printf("scrypt: n=%d r=%d p=%d\n", params.N, params.R, params.P)
		fmt.Printf("discovery_timeout: %v\n", cfg.DiscoveryTimeout())
		fmt.Printf("request_timeout: %v\n", cfg.RequestTimeout())
		return nil
	},
}

var configAddPeerCmd = &cobra.Command{
	Use:   "add-peer ADDR",
	Short: "Add a peer address to arhiv.yaml",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _ := cmd.Root().PersistentFlags().GetString("root")
		configPath, _ := cmd.Root().PersistentFlags().GetString("config")
		if configPath == "" {
			configPath = filepath.Join(root, config.DefaultFileName)
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		for _, p := range cfg.Peers {
			if p == args[0] {
				fmt.Println("peer already configured")
				return nil
			}
		}
		cfg.Peers = append(cfg.Peers, args[0])
		if err := config.Save(configPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Printf("added peer %s\n", args[0])
		return nil
	},
}

var configCheckPeersCmd = &cobra.Command{
	Use:   "check-peers",
	Short: "Probe each configured peer's sync port over TCP",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := rootFlags(cmd)
		if err != nil {
			return err
		}
		if len(cfg.Peers) == 0 {
			fmt.Println("no peers configured")
			return nil
		}
		ctx := cmd.Context()
		var unhealthy int
		for _, addr := range cfg.Peers {
			checker := health.NewTCPChecker(addr).WithTimeout(cfg.RequestTimeout())
			result := checker.Check(ctx)
			status := "ok"
			if !result.Healthy {
				status = "unreachable"
				unhealthy++
			}
			fmt.Printf("%s\t%s\t%s\t(%v)\n", addr, status, result.Message, result.Duration)
		}
		if unhealthy > 0 {
			return fmt.Errorf("%d of %d peers unreachable", unhealthy, len(cfg.Peers))
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configAddPeerCmd)
	configCmd.AddCommand(configCheckPeersCmd)
}
