package storage

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, _, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustAppendMessage(t *testing.T, store *Store, peerAddr, direction, body string, at time.Time) {
	t.Helper()

	err := store.AppendMessage(Message{
		PeerAddr:  peerAddr,
		PeerName:  "peer-" + peerAddr,
		Direction: direction,
		Body:      body,
		SentAt:    at,
	})
	if err != nil {
		t.Fatalf("append message %q: %v", body, err)
	}
}
