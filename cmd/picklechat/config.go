package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		token := cfg.Auth.Token
		if len(token) > 8 {
			token = token[:4] + strings.Repeat("*", 8) + token[len(token)-4:]
		}
		fmt.Printf("default.base_url    = %s\n", cfg.Default.BaseURL)
		fmt.Printf("default.channel_url = %s\n", cfg.Default.ChannelURL)
		fmt.Printf("auth.token          = %s\n", token)
		fmt.Printf("auth.user_id        = %d\n", cfg.Auth.UserID)
		fmt.Printf("auth.display_name   = %s\n", cfg.Auth.DisplayName)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value (e.g. default.base_url https://example.com)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := setConfigValue(cfg, args[0], args[1]); err != nil {
			return err
		}
		return saveConfig(cfg)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}
