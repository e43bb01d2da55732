package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/voslund/decoynet/internal/errx"
	"github.com/voslund/decoynet/pkg/api"
	"github.com/voslund/decoynet/pkg/blockset"
	"github.com/voslund/decoynet/pkg/decoy"
	"github.com/voslund/decoynet/pkg/logging"
	"github.com/voslund/decoynet/pkg/sensor"
	"github.com/voslund/decoynet/pkg/syncer"
	"github.com/voslund/decoynet/pkg/telemetry"
	"github.com/voslund/decoynet/pkg/verdict"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an edge sensor",
	Long: `Run an edge sensor.

The sensor listens for connections, walks each one through admission
control and hands admitted attackers an instrumented shell over a
decoy-populated filesystem. When a control plane is configured the
sensor streams telemetry to it and pulls the shared blocklist back on
an interval. When an oracle is configured every shell command passes
through its verdict gate, failing open if the oracle is slow.

Configuration merges in order, later wins:
  built-in defaults < --config file < environment < flags

Environment Variables:
  SENSOR_ID          Sensor identifier reported with telemetry
  ALLOW_ALL_CREDS    "true" admits any credential pair (high interaction)
  CONTROL_PLANE_URL  Control plane base URL
  API_KEY            Shared key for control plane calls
  ORACLE_URL         Verdict oracle endpoint`,
	Example: `  decoynet run --listen :2222
  decoynet run --config sensor.json --log-level debug
  decoynet run --control-plane http://cp.internal:8080 --api-key $API_KEY
  ALLOW_ALL_CREDS=true decoynet run --oracle http://cp.internal:8080/evaluate`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("config", "", "JSON config file")
	runCmd.Flags().String("listen", "", fmt.Sprintf("Listen address (default %q)", api.DefaultListenAddr))
	runCmd.Flags().String("sensor-id", "", "Sensor identifier (default: generated)")
	runCmd.Flags().Bool("allow-all-creds", false, "Admit any credential pair (high interaction)")
	runCmd.Flags().StringSlice("bait", nil, "Bait credential pair user:password (can be repeated)")
	runCmd.Flags().String("control-plane", "", "Control plane base URL")
	runCmd.Flags().String("api-key", "", "Shared API key for control plane calls")
	runCmd.Flags().String("oracle", "", "Verdict oracle URL")
	runCmd.Flags().String("metrics-listen", "", "Prometheus metrics listen address (empty disables)")
	runCmd.Flags().String("event-log", "", "Local JSONL event log path")
	runCmd.Flags().String("spool", "", "Spool path for telemetry batches that failed to deliver")
	runCmd.Flags().String("decoys", "", "Decoy blueprint JSON file (default: builtin)")
	runCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	runCmd.Flags().String("log-file", "", "Log file path (rotated)")
	runCmd.Flags().Bool("log-json", false, "Log JSON records instead of text")
	runCmd.Flags().Duration("graceful-shutdown", 10*time.Second, "Graceful shutdown timeout before live sessions are cut")

	viper.BindPFlag("run.listen", runCmd.Flags().Lookup("listen"))
	viper.BindPFlag("run.sensor-id", runCmd.Flags().Lookup("sensor-id"))
	viper.BindPFlag("run.allow-all-creds", runCmd.Flags().Lookup("allow-all-creds"))
	viper.BindPFlag("run.control-plane", runCmd.Flags().Lookup("control-plane"))
	viper.BindPFlag("run.api-key", runCmd.Flags().Lookup("api-key"))
	viper.BindPFlag("run.oracle", runCmd.Flags().Lookup("oracle"))

	viper.BindEnv("run.sensor-id", "SENSOR_ID")
	viper.BindEnv("run.allow-all-creds", "ALLOW_ALL_CREDS")
	viper.BindEnv("run.control-plane", "CONTROL_PLANE_URL")
	viper.BindEnv("run.api-key", "API_KEY")
	viper.BindEnv("run.oracle", "ORACLE_URL")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := api.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := api.LoadConfig(path)
		if err != nil {
			return errx.Wrap(ErrLoadConfig, err)
		}
		cfg = cfg.Merge(loaded)
	}
	if err := applyOverrides(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := logging.Config{}
	if cfg.Log != nil {
		logCfg.Level = cfg.Log.Level
		logCfg.File.Path = cfg.Log.File
	}
	if cmd.Flags().Changed("log-level") {
		logCfg.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-file") {
		logCfg.File.Path, _ = cmd.Flags().GetString("log-file")
	}
	logCfg.JSON, _ = cmd.Flags().GetBool("log-json")
	logging.Initialize(logCfg)
	defer logging.Close()

	sensorID := cfg.GetSensorID()
	logger := logging.WithComponent("run")

	// Telemetry pipeline: queue -> forwarder -> control plane, with the
	// optional JSONL event log and delivery spool as local sinks.
	queue := telemetry.NewQueue(cfg.Telemetry.GetQueueCapacity())
	emitter := telemetry.NewEmitter(sensorID, queue)

	var sinks []telemetry.Sink
	if path := stringSetting(cmd, "event-log", telemetryLogPath(cfg)); path != "" {
		w, err := telemetry.NewJSONLWriter(path)
		if err != nil {
			return errx.Wrap(ErrOpenEventLog, err)
		}
		sinks = append(sinks, w)
	}

	var spool *telemetry.Spool
	if path := stringSetting(cmd, "spool", telemetrySpoolPath(cfg)); path != "" {
		var err error
		spool, err = telemetry.NewSpool(path, 0)
		if err != nil {
			return errx.Wrap(ErrOpenSpool, err)
		}
	}

	var fwdCfg telemetry.ForwarderConfig
	if cp := cfg.ControlPlane; cp != nil {
		fwdCfg.BaseURL = cp.URL
		fwdCfg.APIKey = cp.IngestKey
	}
	forwarder := telemetry.NewForwarder(fwdCfg, queue, spool, sinks...)
	forwarder.Start()

	blocks := blockset.NewRepository(
		blockset.WithStrikeThreshold(cfg.Policy.GetStrikeThreshold()),
		blockset.WithStrikeWindow(cfg.Policy.GetStrikeWindow()),
		blockset.WithBlockTTL(cfg.Policy.GetBlockTTL()),
	)
	blocks.StartCleanup(0)

	var blockSync *syncer.Syncer
	if cp := cfg.ControlPlane; cp != nil && cp.URL != "" {
		blockSync = syncer.NewSyncer(syncer.Config{
			BaseURL:  cp.URL,
			APIKey:   cp.BlocklistKey,
			Interval: cp.GetSyncInterval(),
		}, blocks)
		blockSync.Start()
	}

	gate := verdict.NewGate(oracleURL(cfg),
		verdict.WithDeadline(cfg.Oracle.GetDeadline()),
		verdict.WithAPIKey(oracleAPIKey(cfg)),
		verdict.WithSensorID(sensorID),
	)

	blueprints := decoy.Builtin()
	if path := stringSetting(cmd, "decoys", blueprintPath(cfg)); path != "" {
		var err error
		blueprints, err = decoy.LoadBlueprints(path)
		if err != nil {
			return errx.Wrap(ErrLoadBlueprints, err)
		}
	}

	var metricsSrv *http.Server
	if addr, _ := cmd.Flags().GetString("metrics-listen"); addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return errx.With(ErrMetricsListen, " on %s: %w", addr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, "ok\n")
		})
		metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics_server_failed", "error", err)
			}
		}()
		logger.Info("metrics_listening", "addr", ln.Addr().String())
	}

	acceptor, err := sensor.NewAcceptor(sensor.Config{
		ListenAddr:     cfg.GetListenAddr(),
		Policy:         cfg.Policy,
		MaxSessions:    cfg.Limits.GetMaxSessions(),
		SessionTimeout: cfg.Limits.GetSessionTimeout(),
		BlockTTL:       cfg.Policy.GetBlockTTL(),
		Gate:           gate,
		Emitter:        emitter,
		Blocks:         blocks,
		Blueprints:     blueprints,
	})
	if err != nil {
		return errx.Wrap(ErrStartSensor, err)
	}
	acceptor.Start()

	logger.Info("sensor_ready",
		"sensor_id", sensorID,
		"addr", acceptor.Addr().String(),
		"oracle", gate.Enabled(),
		"control_plane", fwdCfg.BaseURL != "")

	ctx, cancel := contextWithSignal(context.Background())
	defer cancel()
	<-ctx.Done()

	grace, _ := cmd.Flags().GetDuration("graceful-shutdown")
	logger.Info("sensor_stopping", "grace", grace.String())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), grace)
	defer shutdownCancel()

	var errs []error
	if err := acceptor.Close(shutdownCtx); err != nil {
		errs = append(errs, errx.Wrap(ErrCloseSensor, err))
	}
	if blockSync != nil {
		if err := blockSync.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	blocks.Stop()
	// The forwarder stops after the acceptor so session-end telemetry
	// from draining sessions still ships.
	if err := forwarder.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// applyOverrides layers environment variables and changed flags over the
// file config. Merge replaces whole sections, so overrides mutate the
// section in place instead.
func applyOverrides(cmd *cobra.Command, cfg *api.Config) error {
	flagOrEnv := func(flag, env string) bool {
		return cmd.Flags().Changed(flag) || os.Getenv(env) != ""
	}

	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr, _ = cmd.Flags().GetString("listen")
	}
	if flagOrEnv("sensor-id", "SENSOR_ID") {
		cfg.SensorID = viper.GetString("run.sensor-id")
	}
	if flagOrEnv("allow-all-creds", "ALLOW_ALL_CREDS") {
		if cfg.Policy == nil {
			cfg.Policy = &api.PolicyConfig{}
		}
		cfg.Policy.AllowAllCreds = viper.GetBool("run.allow-all-creds")
	}
	if baits, _ := cmd.Flags().GetStringSlice("bait"); len(baits) > 0 {
		creds, err := parseBaitPairs(baits)
		if err != nil {
			return err
		}
		if cfg.Policy == nil {
			cfg.Policy = &api.PolicyConfig{}
		}
		cfg.Policy.BaitCredentials = creds
	}
	if flagOrEnv("control-plane", "CONTROL_PLANE_URL") {
		if cfg.ControlPlane == nil {
			cfg.ControlPlane = &api.ControlPlaneConfig{}
		}
		cfg.ControlPlane.URL = viper.GetString("run.control-plane")
	}
	if flagOrEnv("api-key", "API_KEY") {
		if cfg.ControlPlane == nil {
			cfg.ControlPlane = &api.ControlPlaneConfig{}
		}
		key := viper.GetString("run.api-key")
		cfg.ControlPlane.IngestKey = key
		cfg.ControlPlane.BlocklistKey = key
	}
	if flagOrEnv("oracle", "ORACLE_URL") {
		if cfg.Oracle == nil {
			cfg.Oracle = &api.OracleConfig{}
		}
		cfg.Oracle.URL = viper.GetString("run.oracle")
	}
	return nil
}

func parseBaitPairs(specs []string) ([]api.Credential, error) {
	creds := make([]api.Credential, 0, len(specs))
	for _, spec := range specs {
		username, password, ok := strings.Cut(spec, ":")
		if !ok || username == "" {
			return nil, fmt.Errorf("--bait %q: expected user:password", spec)
		}
		creds = append(creds, api.Credential{Username: username, Password: password})
	}
	return creds, nil
}

// stringSetting resolves a string flag against its config-file fallback.
// An empty flag value means unset.
func stringSetting(cmd *cobra.Command, name, fallback string) string {
	if v, _ := cmd.Flags().GetString(name); v != "" {
		return v
	}
	return fallback
}

func telemetryLogPath(cfg *api.Config) string {
	if cfg.Telemetry != nil {
		return cfg.Telemetry.LogPath
	}
	return ""
}

func telemetrySpoolPath(cfg *api.Config) string {
	if cfg.Telemetry != nil {
		return cfg.Telemetry.SpoolPath
	}
	return ""
}

func blueprintPath(cfg *api.Config) string {
	if cfg.Decoys != nil {
		return cfg.Decoys.BlueprintPath
	}
	return ""
}

func oracleURL(cfg *api.Config) string {
	if cfg.Oracle != nil {
		return cfg.Oracle.URL
	}
	return ""
}

// oracleAPIKey prefers a dedicated oracle key. The oracle is usually the
// control plane's evaluate route, which accepts the ingest key.
func oracleAPIKey(cfg *api.Config) string {
	if cfg.Oracle != nil && cfg.Oracle.APIKey != "" {
		return cfg.Oracle.APIKey
	}
	if cfg.ControlPlane != nil {
		return cfg.ControlPlane.IngestKey
	}
	return ""
}
