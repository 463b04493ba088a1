// Package cmd implements the macrorec command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"macrorec/internal/config"
)

// configPath overrides the default config location when set via --config.
var configPath string

// cfgMgr holds the loaded configuration, populated in PersistentPreRunE.
var cfgMgr *config.Manager

var rootCmd = &cobra.Command{
	Use:          "macrorec",
	Short:        "Record global mouse and keyboard input and capture screenshots",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var mgr *config.Manager
		if configPath != "" {
			mgr = config.NewManagerAt(configPath)
		} else {
			m, err := config.NewManager()
			if err != nil {
				return fmt.Errorf("locating config: %w", err)
			}
			mgr = m
		}

		if err := mgr.Load(); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfgMgr = mgr
		return nil
	},
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetConfig returns the loaded configuration for use by subcommands.
func GetConfig() *config.Config {
	if cfgMgr == nil {
		return config.DefaultConfig()
	}
	return cfgMgr.Get()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: user config dir)")
}
