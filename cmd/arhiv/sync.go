package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/cuemby/arhiv/pkg/baza"
	"github.com/cuemby/arhiv/pkg/log"
	"github.com/cuemby/arhiv/pkg/metrics"
	arhsync "github.com/cuemby/arhiv/pkg/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync round against every configured peer",
	Long: `Pulls any new snapshots and referenced BLOBs from each peer in
arhiv.yaml's peer list, applying them locally. Peers unreachable or failing
their ping are skipped, not fatal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openVault(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		_, cfg, err := rootFlags(cmd)
		if err != nil {
			return err
		}
		if len(cfg.Peers) == 0 {
			fmt.Println("no peers configured; see `arhiv config add-peer`")
			return nil
		}

		cert, err := syncIdentity(b)
		if err != nil {
			return err
		}

		results, err := b.Sync(cmd.Context(), cert, cfg.Peers)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		for _, r := range results {
			status := "no change"
			if !r.NoChange {
				status = fmt.Sprintf("applied %d document(s), fetched %d blob(s)", r.AppliedCount, r.FetchedBlobs)
			}
			fmt.Printf("%s: %s\n", r.Peer, status)
		}
		return nil
	},
}

var syncServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen for incoming sync requests from other devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openVault(cmd)
		if err != nil {
			return err
		}
		defer b.Close()

		cert, err := syncIdentity(b)
		if err != nil {
			return err
		}

		addr, _ := cmd.Flags().GetString("listen")
		handler := &arhsync.Handler{
			InstanceID:  b.InstanceID,
			DataVersion: schemaDataVersion,
			SharedKey:   b.Key,
			Cert:        cert,
			State:       b.State,
			Blobs:       b.Blobs,
		}

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		tlsLn := tls.NewListener(ln, handler.TLSConfig())

		metrics.RegisterComponent("state", true, "loaded")
		metrics.RegisterComponent("blobs", true, "loaded")
		if metricsAddr, _ := cmd.Flags().GetString("metrics-listen"); metricsAddr != "" {
			collector := b.NewMetricsCollector()
			collector.Start()
			defer collector.Stop()

			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			mux.Handle("/ready", metrics.ReadyHandler())
			mux.Handle("/live", metrics.LivenessHandler())
			go func() {
				if err := http.ListenAndServe(metricsAddr, mux); err != nil {
					log.WithComponent("metrics-server").Warn().Err(err).Msg("metrics server stopped")
				}
			}()
		}

		if background, _ := cmd.Flags().GetBool("background"); background {
			_, cfg, err := rootFlags(cmd)
			if err != nil {
				return err
			}
			bg := baza.NewBackground(b, cert, 0, func() []string { return cfg.Peers })
			bg.Start()
			defer bg.Stop()
			fmt.Println("background blob sweep and sync retry enabled")
		}

		fmt.Printf("serving sync on %s (instance %s)\n", addr, b.InstanceID)
		return http.Serve(tlsLn, handler)
	},
}

func init() {
	addPasswordFlag(syncCmd)
	addPasswordFlag(syncServeCmd)
	syncServeCmd.Flags().String("listen", "0.0.0.0:7420", "Address to listen for incoming sync connections")
	syncServeCmd.Flags().Bool("background", false, "Also run periodic staged-blob cleanup and retry outbound sync against configured peers")
	syncServeCmd.Flags().String("metrics-listen", "127.0.0.1:9090", "Address to serve /metrics, /health, /ready, /live on (plain HTTP, no peer auth); empty disables it")
	syncCmd.AddCommand(syncServeCmd)
}
