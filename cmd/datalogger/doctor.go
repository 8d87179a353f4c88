package main

import (
	"fmt"
	"io"
	"os"

	"datalogger"

	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that this machine is ready to log",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type check struct {
	name string
	run  func(cfg *datalogger.Config, out io.Writer) error
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	console := datalogger.NewTerminalConsole(out)
	console.Banner("ESP32 Dehumidifier Data Logger - Setup Check")

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "✗ configuration: %v\n", err)
		return reportedError{err}
	}
	fmt.Fprintln(out, datalogger.Highlight("✓ configuration loaded"))

	checks := []check{
		{"output folder", checkOutputDir},
		{"serial ports", checkPorts},
		{"session catalog", checkCatalog},
	}

	failed := 0
	for i, c := range checks {
		fmt.Fprintf(out, "\n%d. Checking %s...\n", i+1, c.name)
		if err := c.run(cfg, out); err != nil {
			failed++
			fmt.Fprintf(out, "✗ %v\n", err)
		}
	}

	fmt.Fprintln(out)
	if failed > 0 {
		fmt.Fprintln(out, "⚠ Some issues found. Please fix them before logging.")
		return reportedError{fmt.Errorf("%d check(s) failed", failed)}
	}
	fmt.Fprintln(out, datalogger.Highlight("✓ Setup looks good! You're ready to start logging."))
	fmt.Fprintln(out, datalogger.Faint("  Run: datalogger log"))
	return nil
}

func checkOutputDir(cfg *datalogger.Config, out io.Writer) error {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", cfg.OutputDir, err)
	}
	probe, err := os.CreateTemp(cfg.OutputDir, ".datalogger-probe-*")
	if err != nil {
		return fmt.Errorf("folder %s is not writable: %w", cfg.OutputDir, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	fmt.Fprintf(out, "✓ Folder writable: %s\n", cfg.OutputDir)
	return nil
}

func checkPorts(cfg *datalogger.Config, out io.Writer) error {
	ports, err := datalogger.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		return fmt.Errorf("no serial ports found")
	}
	fmt.Fprintf(out, "✓ Found %d serial port(s):\n", len(ports))
	for _, p := range ports {
		fmt.Fprintf(out, "  - %s: %s\n", p.ID, p.Description)
	}
	if cfg.Port != "" {
		for _, p := range ports {
			if p.ID == cfg.Port {
				return nil
			}
		}
		return fmt.Errorf("configured port %s is not present", cfg.Port)
	}
	return nil
}

func checkCatalog(cfg *datalogger.Config, out io.Writer) error {
	if cfg.Catalog == "" {
		fmt.Fprintln(out, "- not configured (optional)")
		return nil
	}
	catalog, err := datalogger.OpenCatalog(cfg.Catalog)
	if err != nil {
		return fmt.Errorf("catalog %s: %w", cfg.Catalog, err)
	}
	catalog.Close()
	fmt.Fprintf(out, "✓ Catalog ready: %s\n", cfg.Catalog)
	return nil
}
