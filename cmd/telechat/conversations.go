package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// conversations list
	conversationsUnreadOnly bool
)

// ============================================================================
// conversations (parent command)
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Manage conversations",
	Long:  "List and manage chat conversations.",
}

// ============================================================================
// conversations list
// ============================================================================

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		convos, err := client.ListConversations(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(convos) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		for _, c := range convos {
			if conversationsUnreadOnly && c.UnreadCount == 0 {
				continue
			}
			unread := ""
			if c.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", c.UnreadCount)
			}
			preview := ""
			if c.LastMessage != nil {
				preview = ": " + c.LastMessage.Content
			}
			fmt.Printf("  %s  %s%s%s\n", c.ID, c.ParticipantName, unread, preview)
		}
		return nil
	},
}

// ============================================================================
// conversations read
// ============================================================================

var conversationsReadCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Mark a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := args[0]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.MarkConversationRead(ctx, conversationID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Conversation %s marked as read.\n", conversationID)
		return nil
	},
}

// ============================================================================
// conversations start
// ============================================================================

var conversationsStartCmd = &cobra.Command{
	Use:   "start <user-id>",
	Short: "Start (or fetch) a conversation with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := args[0]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		convo, err := client.StartConversation(ctx, userID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Conversation: %s\n", convo.ID)
		fmt.Printf("  Participant: %s (%s)\n", convo.ParticipantName, convo.ParticipantID)
		return nil
	},
}

// ============================================================================
// conversations request
// ============================================================================

var conversationsRequestCmd = &cobra.Command{
	Use:   "request <doctor-id>",
	Short: "File a chat request with a doctor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doctorID := args[0]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		accepted, err := client.RequestConversation(ctx, doctorID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if accepted {
			fmt.Println("Request accepted. You can start chatting.")
		} else {
			fmt.Println("Request filed. Waiting for the doctor to accept.")
		}
		return nil
	},
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	conversationsListCmd.Flags().BoolVar(&conversationsUnreadOnly, "unread", false, "Show only conversations with unread messages")

	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsReadCmd)
	conversationsCmd.AddCommand(conversationsStartCmd)
	conversationsCmd.AddCommand(conversationsRequestCmd)

	rootCmd.AddCommand(conversationsCmd)
}
