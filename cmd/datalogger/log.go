package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"datalogger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Capture board telemetry into a CSV file",
	Long: `Open the board's serial port and append every telemetry row to the
destination CSV with a millisecond capture timestamp. Device status messages are
shown on the console and never written to the file. Runs until Ctrl+C.

When --port is empty the port is picked from the USB bridge description
(CP210x, CH340, USB-SERIAL); if nothing matches you are asked to choose.

Examples:
  datalogger log
  datalogger log --port /dev/ttyUSB0 --output-dir ./captures
  datalogger log --schema prefixed --append --listen :8080`,
	Args: cobra.NoArgs,
	RunE: runLog,
}

func init() {
	f := logCmd.Flags()
	f.StringP("port", "p", "", "serial device (auto-detect when empty)")
	f.IntP("baud", "b", datalogger.DefaultBaud, "baud rate")
	f.Duration("settle", datalogger.DefaultSettle, "wait after opening the port before reading")
	f.StringP("output-dir", "o", ".", "directory for the CSV file")
	f.String("output-file", "dehumidifier_data.csv", "CSV file name")
	f.String("schema", string(datalogger.SchemaHeader), "line convention: header or prefixed")
	f.Bool("append", false, "keep an existing CSV and continue it")
	f.Bool("fsync", true, "sync every record to disk")
	f.String("listen", "", "serve live status, websocket and metrics on this address")
	f.Bool("ambient", false, "poll an SHT85 reference sensor on the host I2C bus")

	for key, flag := range map[string]string{
		"port":            "port",
		"baud":            "baud",
		"settle":          "settle",
		"output_dir":      "output-dir",
		"output_file":     "output-file",
		"schema":          "schema",
		"append":          "append",
		"fsync":           "fsync",
		"listen":          "listen",
		"ambient.enabled": "ambient",
	} {
		v.BindPFlag(key, f.Lookup(flag))
	}

	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	console := datalogger.NewTerminalConsole(cmd.OutOrStdout())
	console.Banner("ESP32 Dehumidifier Data Logger")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	device, err := resolveDevice(cfg.Port, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := datalogger.NewMetrics(reg)

	session := datalogger.NewSession(cfg.SessionConfig(), console)
	session.Metrics = metrics

	var publisher datalogger.Publisher
	if cfg.Listen != "" {
		hub := datalogger.NewWebSocketServer(256)
		datalogger.NewServer(hub, reg).Start(ctx, cfg.Listen)
		publisher = hub
		session.Publisher = hub
	}

	if cfg.Catalog != "" {
		catalog, err := datalogger.OpenCatalog(cfg.Catalog)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.Catalog).Msg("session catalog disabled")
		} else {
			defer catalog.Close()
			session.Recorder = catalog
		}
	}

	if cfg.Ambient.Enabled {
		sensor, err := datalogger.NewSHT85()
		if err != nil {
			log.Warn().Err(err).Msg("ambient reference sensor disabled")
		} else {
			go datalogger.MonitorAmbient(ctx, sensor, cfg.Ambient.Interval, publisher, metrics)
		}
	}

	if _, err := session.Run(ctx, device); err != nil {
		return reportedError{err}
	}
	return nil
}

// resolveDevice returns port when set, otherwise the auto-detected board, and
// falls back to asking the operator.
func resolveDevice(port string, in io.Reader, out io.Writer) (string, error) {
	if port != "" {
		return port, nil
	}

	ports, err := datalogger.ListPorts()
	if err != nil {
		return "", err
	}
	if id, ok := datalogger.Resolve(ports); ok {
		fmt.Fprintf(out, "Found ESP32 on port: %s\n", id)
		return id, nil
	}

	fmt.Fprintln(out, "Available serial ports:")
	for i, p := range ports {
		fmt.Fprintf(out, "%d. %s - %s\n", i+1, p.ID, p.Description)
	}
	fmt.Fprint(out, "\nEnter serial port (e.g. /dev/ttyUSB0 or COM3): ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	choice := strings.TrimSpace(line)
	if choice == "" {
		return "", fmt.Errorf("no serial port selected")
	}
	return choice, nil
}
