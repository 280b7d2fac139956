// Package cmd provides the sketch command-line interface.
//
// Configuration is loaded from multiple sources with clear precedence:
//  1. Command-line flags (--port, --host, etc.) - highest priority
//  2. SKETCH_CONFIG_FILE environment variable - custom config file path
//  3. Individual environment variables (SKETCH_SERVER_PORT, etc.)
//  4. Configuration file (.sketch.yml) - lowest priority
//
// Per-project settings (entry points, import alias, pinned package
// versions) live in sketch.yml inside the project directory itself, not
// in .sketch.yml.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sketch",
	Short: "Live preview server for React component sketches",
	Long: `Sketch keeps a project of React/TypeScript files in memory, compiles it
on every change, and serves a self-contained preview document with a
per-run import map.

Quick Start:
  sketch serve ./my-project       Start the preview server
  sketch build ./my-project       Compile once and print the document
  sketch version                  Show version information`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Accept underscore spellings (--log_level) for parity with the
	// SKETCH_ environment variable names.
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .sketch.yml, can also use SKETCH_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("SKETCH_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sketch")
	}

	viper.SetEnvPrefix("SKETCH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
