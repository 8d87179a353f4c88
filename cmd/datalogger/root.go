package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"datalogger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	v       = viper.New()
)

// reportedError has already been shown to the operator.
type reportedError struct{ error }

var rootCmd = &cobra.Command{
	Use:   "datalogger",
	Short: "Serial telemetry logger for the ESP32 dehumidifier",
	Long: `datalogger captures the CSV telemetry printed by the dehumidifier
controller over USB serial, stores every sample with a capture timestamp,
and renders a spreadsheet dashboard from a finished capture.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./.datalogger.yaml or $HOME/.datalogger.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "diagnostic log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("catalog", "", "sqlite file recording logging sessions")
	v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("catalog", rootCmd.PersistentFlags().Lookup("catalog"))
}

func initConfig() error {
	datalogger.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(".datalogger")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DATALOGGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	datalogger.SetupLogging(v.GetString("log_level"), os.Stderr)
	return nil
}

func loadConfig() (*datalogger.Config, error) {
	return datalogger.LoadConfig(v)
}
