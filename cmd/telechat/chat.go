package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	telechat "github.com/telvia-health/telechat-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <conversation-id> <user-id>",
	Short: "Open an interactive chat session",
	Long: "Open a conversation and chat in realtime. Messages are delivered over\n" +
		"the realtime channel when it is up and fall back to the HTTP API when\n" +
		"it is not. Type a message and press enter to send; /quit to leave.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID, peerID := args[0], args[1]

		client := getClient()
		rt := getRealtime(client)
		session := telechat.NewSession(client, rt, nil)

		ctx := context.Background()
		if err := session.Init(ctx); err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
		defer session.Teardown()

		session.SetOnChange(func(change telechat.Change) {
			msg := change.Message
			if msg.ConversationID != conversationID {
				return
			}
			switch change.Kind {
			case telechat.ChangeAppended:
				if msg.SenderID != session.SelfID() {
					fmt.Printf("\r%s %s: %s\n> ", msg.CreatedAt.Format("15:04"), msg.SenderID, msg.Content)
				}
			case telechat.ChangeStatus:
				if msg.Status == telechat.StatusFailed {
					fmt.Printf("\rMessage failed. Resend with /retry %s\n> ", msg.CorrelationID)
				}
			}
		})

		history, err := session.OpenConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		defer session.CloseConversation()

		for _, msg := range history {
			fmt.Printf("%s %s: %s\n", msg.CreatedAt.Format("15:04"), msg.SenderID, msg.Content)
		}
		fmt.Println("--- connected, /quit to leave ---")

		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
			case line == "/quit":
				return nil
			case strings.HasPrefix(line, "/retry "):
				correlationID := strings.TrimPrefix(line, "/retry ")
				sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
				msg, err := session.ResendMessage(sendCtx, correlationID)
				cancel()
				if err != nil {
					fmt.Printf("Resend failed: %v\n", err)
				} else {
					fmt.Printf("Resent (%s)\n", msg.Status)
				}
			default:
				session.InputChanged(conversationID)
				sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
				msg, err := session.SendMessage(sendCtx, conversationID, peerID, line)
				cancel()
				if err != nil {
					fmt.Printf("Send failed: %v (resend with /retry %s)\n", err, msg.CorrelationID)
				}
			}
			fmt.Print("> ")
		}
		return scanner.Err()
	},
}
