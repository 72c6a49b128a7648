package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "./config.json"

func newRootCommand() *cobra.Command {
	var configPath string

	run := newRunCommand(&configPath)
	rootCmd := &cobra.Command{
		Use:           "friends-bot",
		Short:         "Clan builder timers for Telegram",
		SilenceUsage:  true,
		SilenceErrors: true,
		// No subcommand runs the bot, as systemd units expect.
		RunE: run.RunE,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file (.json, .yaml or .toml)")

	rootCmd.AddCommand(run)
	rootCmd.AddCommand(newConfigCommand(&configPath))
	rootCmd.AddCommand(newAccountsCommand(&configPath))
	return rootCmd
}
