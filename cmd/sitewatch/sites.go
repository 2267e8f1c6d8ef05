package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/sitewatch"
	"github.com/jpalmerr/sitewatch/api"
)

// sitesCmd lists sites; its subcommands change them.
var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List and manage monitored sites",
	Long: `List the monitored sites, or change them with a subcommand.

Example:
  sitewatch sites
  sitewatch sites --json
  sitewatch sites add "My Blog" blog.example.com
  sitewatch sites toggle 3
  sitewatch sites check 3
  sitewatch sites rm 3`,
	Args: cobra.NoArgs,
	RunE: runSitesList,
}

var sitesAddCmd = &cobra.Command{
	Use:   "add NAME URL",
	Short: "Add a site (https:// is assumed when URL has no scheme)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSitesView(cmd, func(ctx context.Context, v *sitewatch.View) error {
			_, err := v.AddSite(ctx, args[0], args[1])
			return err
		})
	},
}

var sitesRemoveCmd = &cobra.Command{
	Use:     "rm ID",
	Aliases: []string{"delete"},
	Short:   "Delete a site and its logs",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSiteID(args[0])
		if err != nil {
			return err
		}
		return withSitesView(cmd, func(ctx context.Context, v *sitewatch.View) error {
			return v.DeleteSite(ctx, id)
		})
	},
}

var sitesToggleCmd = &cobra.Command{
	Use:   "toggle ID",
	Short: "Enable or disable monitoring of a site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSiteID(args[0])
		if err != nil {
			return err
		}
		return withSitesView(cmd, func(ctx context.Context, v *sitewatch.View) error {
			_, err := v.ToggleSite(ctx, id)
			return err
		})
	},
}

var sitesCheckCmd = &cobra.Command{
	Use:   "check ID",
	Short: "Ask the monitor to probe a site now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSiteID(args[0])
		if err != nil {
			return err
		}
		return withSitesView(cmd, func(ctx context.Context, v *sitewatch.View) error {
			return v.CheckNow(ctx, id)
		})
	},
}

func init() {
	rootCmd.AddCommand(sitesCmd)
	sitesCmd.AddCommand(sitesAddCmd, sitesRemoveCmd, sitesToggleCmd, sitesCheckCmd)

	sitesCmd.Flags().Bool("json", false, "print sites as JSON")
}

// oneShotLevel keeps routine action logs off the terminal of one-shot
// commands.
const oneShotLevel = slog.LevelWarn

// openOneShot opens a view of kind for a single command invocation. The
// returned cleanup closes the view and the board.
func openOneShot(cmd *cobra.Command, kind sitewatch.ViewKind) (*sitewatch.View, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	board, err := newBoard(cfg, newLogger(cmd.ErrOrStderr(), oneShotLevel))
	if err != nil {
		return nil, nil, err
	}
	v, err := board.Open(cmdContext(cmd), kind)
	if err != nil {
		board.Close()
		return nil, nil, err
	}
	return v, board.Close, nil
}

// withSitesView runs one action on a sites view and prints its outcome.
func withSitesView(cmd *cobra.Command, fn func(context.Context, *sitewatch.View) error) error {
	v, cleanup, err := openOneShot(cmd, sitewatch.ViewSites)
	if err != nil {
		return err
	}
	defer cleanup()

	var message string
	v.OnActionResult(func(res sitewatch.ActionResult) {
		message = res.Message
	})

	if err := fn(cmdContext(cmd), v); err != nil {
		if message == "" {
			message = api.UserMessage(err, err.Error())
		}
		return errors.New(message)
	}
	fmt.Fprintln(cmd.OutOrStdout(), message)
	return nil
}

func runSitesList(cmd *cobra.Command, args []string) error {
	v, cleanup, err := openOneShot(cmd, sitewatch.ViewSites)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := v.Refresh(cmdContext(cmd)); err != nil {
		return fmt.Errorf("failed to load sites: %s", api.UserMessage(err, err.Error()))
	}
	snap, _ := v.State()

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap.Sites)
	}
	return printSites(cmd.OutOrStdout(), snap.Sites)
}

func printSites(w io.Writer, sites []api.Site) error {
	if len(sites) == 0 {
		_, err := fmt.Fprintln(w, "No sites configured.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tURL\tSTATUS\tCODE\tUPTIME\tLAST CHECK")
	for _, s := range sites {
		code := "-"
		if s.LastStatus != 0 {
			code = strconv.Itoa(s.LastStatus)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%.1f%% (%s)\t%s\n",
			s.ID, s.Name, s.URL, siteStatus(s), code,
			s.Uptime, sitewatch.UptimeBand(s.Uptime),
			sitewatch.LastCheckLabel(s.LastCheck, ""),
		)
	}
	return tw.Flush()
}

func siteStatus(s api.Site) string {
	if !s.Active {
		return sitewatch.DisabledLabel
	}
	return strings.ToUpper(sitewatch.SiteState(s).String())
}

func parseSiteID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 0)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid site ID %q", arg)
	}
	return uint(id), nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
