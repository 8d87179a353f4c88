package main

import (
	"fmt"

	"datalogger"

	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports and mark the likely board",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := datalogger.ListPorts()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		console := datalogger.NewTerminalConsole(out)
		console.Banner("Available Serial Ports")

		if len(ports) == 0 {
			fmt.Fprintln(out, "No serial ports found!")
			fmt.Fprintln(out, datalogger.Faint(`
Make sure:
  1. the board is connected via USB
  2. USB-serial drivers are installed
  3. the device is recognized by the OS`))
			return nil
		}

		for i, p := range ports {
			fmt.Fprintf(out, "\n%d. %s\n", i+1, p.ID)
			fmt.Fprintf(out, "   Description: %s\n", p.Description)
			fmt.Fprintf(out, "   Hardware ID: %s\n", p.HardwareID)
			if datalogger.LooksLikeTarget(p.Description) {
				fmt.Fprintln(out, datalogger.Highlight("   ⭐ This looks like an ESP32!"))
			}
		}
		if id, ok := datalogger.Resolve(ports); ok {
			fmt.Fprintf(out, "\nAuto-detect would use: %s\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
}
