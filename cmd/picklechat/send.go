package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var sendReplyTo int64

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message...>",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid conversation id %q", args[0])
		}
		content := strings.Join(args[1:], " ")

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

		msg, err := api.SendMessage(ctx, convID, content, "text", sendReplyTo)
		if err != nil {
			return err
		}
		fmt.Printf("Sent message #%d\n", msg.ID)
		return nil
	},
}

func init() {
	sendCmd.Flags().Int64Var(&sendReplyTo, "reply-to", 0, "message id to reply to")
	rootCmd.AddCommand(sendCmd)
}
