package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	chatsync "github.com/LegalDragon/pickleball-chat-go"
)

var historyBefore int64

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Show a page of messages, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid conversation id %q", args[0])
		}
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

		page, err := api.GetMessages(ctx, convID, historyBefore)
		if err != nil {
			return err
		}
		for _, m := range page.Messages {
			printMessage(&m)
		}
		if page.HasMore && len(page.Messages) > 0 {
			fmt.Printf("\n(more history; use --before %d)\n", page.Messages[0].ID)
		}
		return nil
	},
}

func printMessage(m *chatsync.Message) {
	when := m.CreatedAt.Local().Format("Jan 2 15:04")
	body := m.Content
	switch {
	case m.IsDeleted:
		body = "(deleted)"
	case m.EditedAt != nil:
		body += " (edited)"
	}
	if m.ReplyTo != nil {
		fmt.Printf("%s  #%-8d %s ↩ %s: %s\n", when, m.ID, m.SenderName, m.ReplyTo.SenderName, body)
		return
	}
	fmt.Printf("%s  #%-8d %s: %s\n", when, m.ID, m.SenderName, body)
}

func init() {
	historyCmd.Flags().Int64Var(&historyBefore, "before", 0, "page before this message id (0 = latest)")
	rootCmd.AddCommand(historyCmd)
}
