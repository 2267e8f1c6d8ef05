package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/sitewatch"
	"github.com/jpalmerr/sitewatch/api"
)

// logsCmd prints recent probe results.
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent probe results",
	Long: `Show the most recent probe results, newest first.

Example:
  sitewatch logs
  sitewatch logs --status offline --limit 100
  sitewatch logs --site 3 --json`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().Int("limit", 0, "number of entries (log_limit from the config when 0)")
	logsCmd.Flags().Int("page", 0, "page number, starting at 1")
	logsCmd.Flags().Uint("site", 0, "only entries of this site ID")
	logsCmd.Flags().String("status", api.LogStatusAll, "all, online or offline")
	logsCmd.Flags().Bool("json", false, "print entries as JSON")
}

func runLogs(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	page, _ := cmd.Flags().GetInt("page")
	siteID, _ := cmd.Flags().GetUint("site")
	status, _ := cmd.Flags().GetString("status")

	q := api.LogQuery{Limit: limit, Page: page, SiteID: siteID}
	switch status {
	case api.LogStatusAll, "":
	case api.LogStatusOnline, api.LogStatusOffline:
		q.Status = status
	default:
		return fmt.Errorf("invalid status %q (expected all, online or offline)", status)
	}

	v, cleanup, err := openOneShot(cmd, sitewatch.ViewLogs)
	if err != nil {
		return err
	}
	defer cleanup()

	v.SetLogQuery(q)
	if err := v.Refresh(cmdContext(cmd)); err != nil {
		return fmt.Errorf("failed to load logs: %s", api.UserMessage(err, err.Error()))
	}
	snap, _ := v.State()

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap.Logs)
	}
	return printLogs(cmd.OutOrStdout(), snap.Logs, snap.LogTotal)
}

func printLogs(w io.Writer, entries []api.LogEntry, total int64) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No log entries.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECKED AT\tSITE\tSTATUS\tCODE\tTIME\tERROR")
	for _, e := range entries {
		code := "-"
		if e.StatusCode != 0 {
			code = strconv.Itoa(e.StatusCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%dms\t%s\n",
			e.CheckedAt.Local().Format(time.DateTime), e.Site.Name,
			strings.ToUpper(sitewatch.EntryState(e).String()), code,
			e.ResponseTimeMs, e.ErrorMessage,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nShowing %d of %d entries\n", len(entries), total)
	return err
}
