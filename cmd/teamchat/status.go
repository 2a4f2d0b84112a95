package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration and fetch live account info from the backend.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:  %s\n", valueOrDefault(cfg.Default.BaseURL, "(default)"))
		if cfg.Auth.Token != "" {
			fmt.Printf("  Token:     %s\n", maskToken(cfg.Auth.Token))
		} else {
			fmt.Println("  Token:     (not set)")
		}
		if cfg.Auth.FullName != "" {
			fmt.Printf("  Signed in: %s (id %d)\n", cfg.Auth.FullName, cfg.Auth.UserID)
		}

		if cfg.Auth.Token == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		me, err := client.Users.Me(ctx)
		if err != nil {
			fmt.Printf("  Error fetching account info: %v\n", err)
			return nil
		}
		fmt.Printf("  Name:   %s\n", me.FullName)
		fmt.Printf("  Email:  %s\n", me.Email)
		fmt.Printf("  Status: %s\n", valueOrDefault(me.Status, "-"))

		convs, err := client.Conversations.Mine(ctx)
		if err != nil {
			fmt.Printf("  Error fetching conversations: %v\n", err)
			return nil
		}
		unseen := 0
		for _, c := range convs {
			unseen += c.UnseenCount
		}
		fmt.Printf("  Conversations: %d\n", len(convs))
		fmt.Printf("  Unseen:        %d\n", unseen)
		return nil
	},
}

// maskToken shows the first 8 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 12 {
		return "****"
	}
	return token[:8] + "..." + token[len(token)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
