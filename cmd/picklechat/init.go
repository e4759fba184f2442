package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	initBaseURL string
	initUserID  int64
	initName    string
)

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Sign in with an API token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Auth.Token = args[0]
		if initBaseURL != "" {
			cfg.Default.BaseURL = initBaseURL
		}
		if initUserID != 0 {
			cfg.Auth.UserID = initUserID
		}
		if initName != "" {
			cfg.Auth.DisplayName = initName
		}
		if err := saveConfig(cfg); err != nil {
			return err
		}
		path, _ := configPath()
		fmt.Printf("Configuration saved to %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initBaseURL, "base-url", "", "server base URL")
	initCmd.Flags().Int64Var(&initUserID, "user-id", 0, "your user id")
	initCmd.Flags().StringVar(&initName, "name", "", "your display name")
	rootCmd.AddCommand(initCmd)
}
