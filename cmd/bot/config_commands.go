package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Keeeszo/friends-bot/internal/config"
)

func newConfigCommand(configPath *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigCheckCommand(configPath))
	return configCmd
}

func newConfigCheckCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Parse and validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigManager(*configPath).Parse()
			if err != nil {
				return fmt.Errorf("parse %s: %w", *configPath, err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid %s:\n%w", *configPath, err)
			}
			b, _ := cfg.Builders.Resolve()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK: %s\n", *configPath)
			rows := [][]string{
				{"storage", storageSummary(cfg.Storage)},
				{"clan", strings.ToUpper(cfg.ClanAPI.ClanTag)},
				{"allowed chats", fmt.Sprint(len(cfg.Telegram.AllowedChatIDs))},
				{"scan interval", b.ScanInterval.String()},
				{"notify window", b.NotifyWindow.String()},
				{"notify overdue", fmt.Sprint(b.NotifyOverdue)},
				{"capacity", fmt.Sprintf("%d-%d", b.MinCapacity, b.MaxCapacity)},
				{"timezone", orDefault(cfg.Scheduler.Timezone, "local")},
				{"status report", orDefault(cfg.Scheduler.StatusReport, "off")},
			}
			fmt.Fprintln(out, renderTable([]string{"Setting", "Value"}, rows, nil))
			return nil
		},
	}
}

func storageSummary(s config.StorageConfig) string {
	driver := strings.TrimSpace(s.Driver)
	if driver == "" {
		driver = "file"
	}
	if p := strings.TrimSpace(s.Path); p != "" {
		return driver + " (" + p + ")"
	}
	return driver
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
