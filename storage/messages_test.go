package storage

import (
	"testing"
	"time"
)

func TestAppendAndRecentMessages(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	mustAppendMessage(t, store, "10.0.0.2:5000", DirectionSent, "hi", base)
	mustAppendMessage(t, store, "10.0.0.2:5000", DirectionReceived, "hey", base.Add(time.Second))
	mustAppendMessage(t, store, "10.0.0.3:5000", DirectionSent, "other peer", base.Add(2*time.Second))

	messages, err := store.RecentMessages("10.0.0.2:5000", 10)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}

	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	if messages[0].Body != "hi" || messages[1].Body != "hey" {
		t.Fatalf("wrong order: %q then %q", messages[0].Body, messages[1].Body)
	}
	if messages[0].MessageID == "" {
		t.Fatal("message ID was not generated")
	}
}

func TestRecentMessagesHonorsLimit(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		mustAppendMessage(t, store, "10.0.0.2:5000", DirectionSent, "msg", base.Add(time.Duration(i)*time.Second))
	}

	messages, err := store.RecentMessages("10.0.0.2:5000", 3)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(messages))
	}
	// The newest rows win the limit, returned oldest first.
	if !messages[0].SentAt.Equal(base.Add(7 * time.Second)) {
		t.Fatalf("unexpected window start: %v", messages[0].SentAt)
	}
}

func TestAppendMessageValidation(t *testing.T) {
	store := newTestStore(t)

	if err := store.AppendMessage(Message{Direction: DirectionSent, Body: "x"}); err == nil {
		t.Fatal("expected error for missing peer_addr")
	}
	if err := store.AppendMessage(Message{PeerAddr: "10.0.0.2:5000", Direction: "sideways", Body: "x"}); err == nil {
		t.Fatal("expected error for invalid direction")
	}
}

func TestRecentMessagesEmptyConversation(t *testing.T) {
	store := newTestStore(t)

	messages, err := store.RecentMessages("10.9.9.9:5000", 10)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("got %d messages, want 0", len(messages))
	}
}
