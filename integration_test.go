//go:build integration

package telechat

import (
	"context"
	"os"
	"testing"
	"time"
)

// Integration tests run against a live backend. Provide credentials via
// environment:
//
//	TELECHAT_TEST_TOKEN=...   required; tests skip without it
//	TELECHAT_TEST_BASE_URL=.. optional; defaults to production
//	TELECHAT_TEST_PEER=...    optional; user ID to message
//
// Run with: go test -tags integration ./...

func integrationClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("TELECHAT_TEST_TOKEN")
	if token == "" {
		t.Skip("TELECHAT_TEST_TOKEN not set")
	}
	var opts []ClientOption
	if base := os.Getenv("TELECHAT_TEST_BASE_URL"); base != "" {
		opts = append(opts, WithBaseURL(base))
	}
	return NewClient(token, opts...)
}

func TestIntegrationProfileAndConversations(t *testing.T) {
	client := integrationClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	profile, err := client.Me(ctx)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if profile.UserID == "" {
		t.Fatal("expected non-empty user ID")
	}
	t.Logf("authenticated as %s (%s)", profile.DisplayName, profile.Role)

	convos, err := client.ListConversations(ctx)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	t.Logf("%d conversations", len(convos))
}

func TestIntegrationRealtimeSession(t *testing.T) {
	client := integrationClient(t)
	rt := NewRealtimeClient(client, &RealtimeConfig{AutoReconnect: true})
	session := NewSession(client, rt, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := session.Init(ctx); err != nil {
		t.Fatalf("session init: %v", err)
	}
	defer session.Teardown()

	peer := os.Getenv("TELECHAT_TEST_PEER")
	if peer == "" {
		t.Skip("TELECHAT_TEST_PEER not set")
	}

	convo, err := session.StartConversation(ctx, peer)
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}

	if _, err := session.OpenConversation(ctx, convo.ID); err != nil {
		t.Fatalf("open conversation: %v", err)
	}

	msg, err := session.SendMessage(ctx, convo.ID, peer, "integration test message")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Status == StatusFailed {
		t.Fatal("message failed on both channels")
	}
	t.Logf("sent message, status %s", msg.Status)
}
