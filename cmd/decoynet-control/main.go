package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/voslund/decoynet/pkg/api"
	"github.com/voslund/decoynet/pkg/controlplane"
	"github.com/voslund/decoynet/pkg/logging"
)

func main() {
	var listen string
	var dbPath string
	var oracleURL string
	var oracleTimeout time.Duration
	var riskThreshold int
	var ingestKey string
	var blocklistKey string
	var logLevel string
	var logFile string
	var logJSON bool
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "decoynet-control",
		Short: "Run the decoynet control plane",
		Long: `Run the decoynet control plane.

Aggregates telemetry from every sensor into a SQLite store, maintains
the network-wide blocklist, proxies verdict evaluations to the oracle
and serves the dashboard feed and live event stream.

API keys come from flags or the environment (DECOYNET_INGEST_KEY,
DECOYNET_BLOCKLIST_KEY). A route group with no key configured accepts
unauthenticated requests; the server warns about it at startup.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if shutdownTimeout <= 0 {
				return fmt.Errorf("--shutdown-timeout must be > 0")
			}
			if riskThreshold < 0 {
				return fmt.Errorf("--risk-threshold must be >= 0")
			}
			if ingestKey == "" {
				ingestKey = os.Getenv("DECOYNET_INGEST_KEY")
			}
			if blocklistKey == "" {
				blocklistKey = os.Getenv("DECOYNET_BLOCKLIST_KEY")
			}

			logging.Initialize(logging.Config{
				Level: logLevel,
				JSON:  logJSON,
				File:  logging.FileConfig{Path: logFile},
			})
			defer logging.Close()

			server, err := controlplane.NewServer(controlplane.Config{
				ListenAddr:    listen,
				StorePath:     dbPath,
				IngestKey:     ingestKey,
				BlocklistKey:  blocklistKey,
				OracleURL:     oracleURL,
				OracleTimeout: oracleTimeout,
				RiskThreshold: riskThreshold,
			})
			if err != nil {
				return err
			}
			server.Start()
			fmt.Fprintf(cmd.ErrOrStderr(), "Control plane listening on http://%s\n", server.Addr())

			ctx, cancel := contextWithSignal(context.Background())
			defer cancel()
			<-ctx.Done()

			closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer closeCancel()
			return server.Close(closeCtx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":8080", "Listen address")
	cmd.Flags().StringVar(&dbPath, "db", "decoynet.db", "SQLite event store path")
	cmd.Flags().StringVar(&oracleURL, "oracle", "", "Verdict oracle URL for proxied evaluations")
	cmd.Flags().DurationVar(&oracleTimeout, "oracle-timeout", controlplane.DefaultOracleTimeout, "Oracle round-trip timeout")
	cmd.Flags().IntVar(&riskThreshold, "risk-threshold", api.DefaultRiskThreshold, "Analyzer score that triggers a global block")
	cmd.Flags().StringVar(&ingestKey, "ingest-key", "", "API key for sensor ingest and evaluate routes")
	cmd.Flags().StringVar(&blocklistKey, "blocklist-key", "", "API key for blocklist and dashboard routes")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Log file path (rotated)")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log JSON records instead of text")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 20*time.Second, "Graceful shutdown timeout")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
