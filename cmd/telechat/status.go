package main

import (
	"context"
	"fmt"
	"time"

	telechat "github.com/telvia-health/telechat-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration and fetch the live chat profile.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Print config summary.
		fmt.Println("Configuration:")
		fmt.Printf("  Base URL: %s\n", valueOrDefault(cfg.Default.BaseURL, telechat.DefaultBaseURL))
		if cfg.Auth.Token != "" {
			fmt.Printf("  Token:    %s\n", maskToken(cfg.Auth.Token))
		} else {
			fmt.Println("  Token:    (not set)")
		}

		if cfg.Auth.Token == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")

		var opts []telechat.ClientOption
		if cfg.Default.BaseURL != "" {
			opts = append(opts, telechat.WithBaseURL(cfg.Default.BaseURL))
		}
		client := telechat.NewClient(cfg.Auth.Token, opts...)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		profile, err := client.Me(ctx)
		if err != nil {
			fmt.Printf("  Error fetching profile: %v\n", err)
			return nil
		}

		fmt.Printf("  User ID:      %s\n", profile.UserID)
		fmt.Printf("  Display Name: %s\n", profile.DisplayName)
		fmt.Printf("  Role:         %s\n", profile.Role)
		return nil
	},
}

// maskToken shows the first 8 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) < 4 {
		return "..."
	}
	if len(token) <= 12 {
		return token[:2] + "..." + token[len(token)-2:]
	}
	return token[:8] + "..." + token[len(token)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
