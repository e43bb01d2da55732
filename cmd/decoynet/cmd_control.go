package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/voslund/decoynet/internal/errx"
	"github.com/voslund/decoynet/pkg/sdk"
	"github.com/voslund/decoynet/pkg/telemetry"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Operate a running control plane",
	Long: `Operate a running control plane.

Administrative client for the aggregator: inspect and edit the global
blocklist, read the intelligence feed and digest, follow the live event
stream, and re-import locally spooled event logs.`,
}

var controlBlocklistCmd = &cobra.Command{
	Use:   "blocklist",
	Short: "Show the global blocklist",
	Args:  cobra.NoArgs,
	RunE:  runControlBlocklist,
}

var controlUnblockCmd = &cobra.Command{
	Use:   "unblock <address>",
	Short: "Remove an address from the global blocklist",
	Args:  cobra.ExactArgs(1),
	RunE:  runControlUnblock,
}

var controlFeedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Show the intelligence feed",
	Args:  cobra.NoArgs,
	RunE:  runControlFeed,
}

var controlDigestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Fetch the control plane's aggregated digest",
	Args:  cobra.NoArgs,
	RunE:  runControlDigest,
}

var controlWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the live event stream",
	Args:  cobra.NoArgs,
	RunE:  runControlWatch,
}

var controlImportCmd = &cobra.Command{
	Use:   "import <events.jsonl>",
	Short: "Import a local event log into the control plane",
	Long: `Import a local event log into the control plane.

Replays a JSONL event log (a sensor's --event-log file) through the
ingest endpoint. Ingest is idempotent by event ID, so importing a log
that partially reached the control plane only adds the missing events.`,
	Args: cobra.ExactArgs(1),
	RunE: runControlImport,
}

func init() {
	controlCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "Control plane base URL")
	controlCmd.PersistentFlags().String("api-key", "", "API key (defaults to DECOYNET_API_KEY)")

	controlFeedCmd.Flags().Int("limit", 20, "Most recent rows to show (0 shows all)")
	controlDigestCmd.Flags().String("format", "markdown", "Output format (markdown, json)")
	controlWatchCmd.Flags().Bool("json", false, "Print events as raw JSON lines")

	controlCmd.AddCommand(controlBlocklistCmd)
	controlCmd.AddCommand(controlUnblockCmd)
	controlCmd.AddCommand(controlFeedCmd)
	controlCmd.AddCommand(controlDigestCmd)
	controlCmd.AddCommand(controlWatchCmd)
	controlCmd.AddCommand(controlImportCmd)
	rootCmd.AddCommand(controlCmd)
}

func controlClient(cmd *cobra.Command) *sdk.Client {
	server, _ := cmd.Flags().GetString("server")
	key, _ := cmd.Flags().GetString("api-key")
	if key == "" {
		key = os.Getenv("DECOYNET_API_KEY")
	}
	return sdk.NewClient(server, sdk.WithAPIKey(key))
}

func runControlBlocklist(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithSignal(context.Background())
	defer cancel()

	set, err := controlClient(cmd).Blocklist(ctx)
	if err != nil {
		return errx.Wrap(ErrControlPlane, err)
	}

	fmt.Printf("Blocklist version %d (%d entries)", set.Version, len(set.Entries))
	if !set.UpdatedAt.IsZero() {
		fmt.Printf(", updated %s", set.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Println()
	if len(set.Entries) == 0 {
		return nil
	}

	addrs := make([]string, 0, len(set.Entries))
	for addr := range set.Entries {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tADDED\tREASON")
	for _, addr := range addrs {
		e := set.Entries[addr]
		added := "-"
		if !e.CreatedAt.IsZero() {
			added = e.CreatedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", addr, added, e.Reason)
	}
	return w.Flush()
}

func runControlUnblock(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithSignal(context.Background())
	defer cancel()

	addr := args[0]
	removed, err := controlClient(cmd).Unblock(ctx, addr)
	if err != nil {
		return errx.Wrap(ErrControlPlane, err)
	}
	if removed {
		fmt.Printf("Removed %s from the global blocklist\n", addr)
	} else {
		fmt.Printf("%s was not blocked\n", addr)
	}
	return nil
}

func runControlFeed(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithSignal(context.Background())
	defer cancel()

	entries, err := controlClient(cmd).Feed(ctx)
	if err != nil {
		return errx.Wrap(ErrControlPlane, err)
	}
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	if len(entries) == 0 {
		fmt.Println("Feed is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tATTACKER\tLOCATION\tDECISION\tRISK\tSUMMARY")
	for _, e := range entries {
		loc := e.Geolocation.City + ", " + e.Geolocation.Country
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.AttackerIP, loc, e.Decision, e.RiskScore, e.Summary)
	}
	return w.Flush()
}

func runControlDigest(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithSignal(context.Background())
	defer cancel()

	digest, err := controlClient(cmd).Digest(ctx)
	if err != nil {
		return errx.Wrap(ErrControlPlane, err)
	}

	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "markdown", "md":
		fmt.Print(digest.Markdown())
	case "json":
		out, err := json.MarshalIndent(digest, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	default:
		return fmt.Errorf("unknown format %q (use markdown or json)", format)
	}
	return nil
}

func runControlWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithSignal(context.Background())
	defer cancel()

	events, err := controlClient(cmd).LiveEvents(ctx)
	if err != nil {
		return errx.Wrap(ErrControlPlane, err)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Watching live events (Ctrl-C to stop)")

	asJSON, _ := cmd.Flags().GetBool("json")
	for e := range events {
		if asJSON {
			line, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Println(string(line))
			continue
		}
		fmt.Printf("%s  %-14s %-15s %s\n",
			e.Timestamp.Format("15:04:05"), e.Kind, e.SourceIP, describeEvent(e))
	}
	return nil
}

// describeEvent renders the one detail an operator scans for per kind.
func describeEvent(e telemetry.Event) string {
	switch e.Kind {
	case telemetry.KindLoginAttempt, telemetry.KindLoginSuccess:
		return e.Username + ":" + e.Password
	case telemetry.KindCommand, telemetry.KindVerdict:
		s := e.Details[telemetry.DetailCommand]
		if c := e.Details[telemetry.DetailClassification]; c != "" {
			s += " [" + c + "]"
		}
		return s
	case telemetry.KindBlock:
		return e.Details[telemetry.DetailReason]
	case telemetry.KindSessionEnd:
		s := e.Details[telemetry.DetailReason]
		if d := e.Details[telemetry.DetailDuration]; d != "" {
			s += " after " + d + "s"
		}
		if c := e.Details[telemetry.DetailCommandCount]; c != "" {
			s += ", " + c + " commands"
		}
		return s
	}
	return ""
}

func runControlImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := contextWithSignal(context.Background())
	defer cancel()

	events, skipped, err := telemetry.ReadJSONL(args[0])
	if err != nil {
		return errx.Wrap(ErrReadEventLog, err)
	}
	if skipped > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: skipped %d malformed lines\n", skipped)
	}
	if len(events) == 0 {
		fmt.Println("No events to import")
		return nil
	}

	client := controlClient(cmd)
	inserted := 0
	for start := 0; start < len(events); start += telemetry.DefaultBatchSize {
		end := min(start+telemetry.DefaultBatchSize, len(events))
		n, err := client.Ingest(ctx, events[start:end])
		if err != nil {
			return errx.Wrap(ErrControlPlane, err)
		}
		inserted += n
	}
	fmt.Printf("Imported %d events (%d new) from %s\n", len(events), inserted, args[0])
	return nil
}
