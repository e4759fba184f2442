package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convs", "ls"},
	Short:   "List conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		api, err := newAPIClient(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		convs, err := api.ListConversations(ctx)
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, c := range convs {
			markers := ""
			if c.UnreadCount > 0 {
				markers += fmt.Sprintf(" [%d unread]", c.UnreadCount)
			}
			if c.IsMuted {
				markers += " [muted]"
			}
			when := ""
			if !c.LastMessageAt.IsZero() {
				when = c.LastMessageAt.Local().Format("Jan 2 15:04")
			}
			fmt.Printf("%-8d %-12s %-30s %s%s\n", c.ID, c.Type, c.DisplayName, when, markers)
			if c.LastMessagePreview != "" {
				fmt.Printf("         %s: %s\n", c.LastMessageSenderName, c.LastMessagePreview)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(conversationsCmd)
}
