package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"datalogger"
	"datalogger/report"

	"github.com/spf13/cobra"
)

var (
	reportCSV   string
	reportOut   string
	reportWatch bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Build the spreadsheet dashboard from a capture",
	Long: `Read a finished capture in the prefixed column layout and write an .xlsx
workbook with the raw data, performance calculations and trend charts. The
derived metrics are also printed.

With --watch the workbook is rebuilt every time the capture file changes.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportCSV, "csv", "", "capture file (default: configured output path)")
	reportCmd.Flags().StringVar(&reportOut, "out", "", "workbook path (default: dehumidifier_dashboard.xlsx next to the capture)")
	reportCmd.Flags().BoolVarP(&reportWatch, "watch", "w", false, "rebuild when the capture changes")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	csvPath := reportCSV
	if csvPath == "" {
		csvPath = cfg.OutputPath()
	}
	outPath := reportOut
	if outPath == "" {
		outPath = filepath.Join(filepath.Dir(csvPath), "dehumidifier_dashboard.xlsx")
	}

	out := cmd.OutOrStdout()
	console := datalogger.NewTerminalConsole(out)
	console.Banner("Creating Excel Dashboard with Graphs")

	build := func() error { return buildReport(out, csvPath, outPath) }
	if err := build(); err != nil {
		if !reportWatch {
			return err
		}
		fmt.Fprintf(out, "report not built yet: %v\n", err)
	}
	if !reportWatch {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	fmt.Fprintf(out, "\nWatching %s for changes (Ctrl+C to stop)\n", csvPath)
	return report.Watch(ctx, csvPath, 2*time.Second, build)
}

func buildReport(out io.Writer, csvPath, outPath string) error {
	if _, err := os.Stat(csvPath); err != nil {
		return fmt.Errorf("CSV file not found at %s, run `datalogger log` first: %w", csvPath, err)
	}

	ds, err := report.Load(csvPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Loaded %d records from %s\n\n", len(ds.Rows), csvPath)

	if err := report.Summarize(ds).WriteText(out); err != nil {
		return err
	}
	if err := report.Render(ds, outPath); err != nil {
		return err
	}
	fmt.Fprintln(out, datalogger.Highlight("\n✓ Dashboard saved: "+outPath))
	return nil
}
