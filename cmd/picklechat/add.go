package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add <conversation-id> <user-id...>",
	Short: "Add participants to a conversation",
	Long: `Adds one or more users to a conversation. Adding someone to a direct
conversation turns it into a friend group.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid conversation id %q", args[0])
		}
		userIDs := make([]int64, 0, len(args)-1)
		for _, a := range args[1:] {
			id, err := strconv.ParseInt(a, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", a)
			}
			userIDs = append(userIDs, id)
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

		if err := api.AddParticipants(ctx, convID, userIDs); err != nil {
			return err
		}
		fmt.Printf("Added %d participant(s) to conversation %d\n", len(userIDs), convID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
}
