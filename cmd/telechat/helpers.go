package main

import (
	"fmt"
	"os"

	telechat "github.com/telvia-health/telechat-go"
)

// getClient creates an authenticated API client from the stored config.
func getClient() *telechat.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'telechat init <token>' first.")
		os.Exit(1)
	}

	var opts []telechat.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, telechat.WithBaseURL(cfg.Default.BaseURL))
	}

	return telechat.NewClient(cfg.Auth.Token, opts...)
}

// getRealtime creates a realtime client over the API client with
// default reconnect settings.
func getRealtime(client *telechat.Client) *telechat.RealtimeClient {
	return telechat.NewRealtimeClient(client, nil)
}
