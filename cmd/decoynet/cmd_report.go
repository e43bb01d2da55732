package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voslund/decoynet/internal/errx"
	"github.com/voslund/decoynet/pkg/analyzer"
	"github.com/voslund/decoynet/pkg/api"
	"github.com/voslund/decoynet/pkg/report"
	"github.com/voslund/decoynet/pkg/telemetry"
)

var reportCmd = &cobra.Command{
	Use:   "report <events.jsonl>",
	Short: "Build an intelligence digest from a local event log",
	Long: `Build an intelligence digest from a local event log.

Reads the JSONL event log a sensor writes with --event-log and renders
the same digest the control plane serves: per-source dwell time, threat
classification, blocking efficiency, deception efficiency and a rough
geographic distribution.`,
	Example: `  decoynet report events.jsonl
  decoynet report events.jsonl --format json -o digest.json`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().String("format", "markdown", "Output format (markdown, json)")
	reportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")
	reportCmd.Flags().String("config", "", "JSON config file supplying analyzer weights")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	events, skipped, err := telemetry.ReadJSONL(args[0])
	if err != nil {
		return errx.Wrap(ErrReadEventLog, err)
	}
	if skipped > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: skipped %d malformed lines\n", skipped)
	}

	anCfg := analyzer.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := api.LoadConfig(path)
		if err != nil {
			return errx.Wrap(ErrLoadConfig, err)
		}
		if loaded.Analyzer != nil {
			anCfg = *loaded.Analyzer
		}
	}

	digest := report.Build(anCfg, events)

	var out []byte
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "markdown", "md":
		out = []byte(digest.Markdown())
	case "json":
		out, err = json.MarshalIndent(digest, "", "  ")
		if err != nil {
			return err
		}
		out = append(out, '\n')
	default:
		return fmt.Errorf("unknown format %q (use markdown or json)", format)
	}

	if path, _ := cmd.Flags().GetString("output"); path != "" {
		if err := os.WriteFile(path, out, 0644); err != nil {
			return errx.Wrap(ErrWriteReport, err)
		}
		return nil
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
