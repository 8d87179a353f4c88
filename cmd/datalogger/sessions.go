package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"datalogger"

	"github.com/spf13/cobra"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent logging sessions from the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Catalog == "" {
			return fmt.Errorf("no catalog configured, set catalog in the config or DATALOGGER_CATALOG")
		}

		catalog, err := datalogger.OpenCatalog(cfg.Catalog)
		if err != nil {
			return err
		}
		defer catalog.Close()

		rows, err := catalog.Recent(sessionsLimit)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STARTED\tDURATION\tDEVICE\tRECORDS\tEND\tFILE")
		for _, r := range rows {
			duration, reason := "running", r.EndReason
			if r.EndedAt != nil {
				duration = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
			}
			if reason == "" {
				reason = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
				r.StartedAt.Format(time.DateTime), duration, r.Device, r.Records, reason, r.Path)
		}
		return tw.Flush()
	},
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "number of sessions to show")
	rootCmd.AddCommand(sessionsCmd)
}
