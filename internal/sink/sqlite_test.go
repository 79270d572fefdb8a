package sink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/you/chatzzk/internal/core"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteInsertIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	user := "nick"
	row := core.ChatRow{
		MessageID:  "m-1",
		StreamerID: "s1",
		UserID:     &user,
		Msg:        "hello",
		Ts:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Raw:        []byte(`{"msg":"hello"}`),
	}

	inserted, err := store.InsertChat(ctx, row)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Fatal("first insert reported no-op")
	}

	// Same message id, different payload: the stored row must not change.
	row.Msg = "tampered"
	inserted, err = store.InsertChat(ctx, row)
	if err != nil {
		t.Fatalf("reinsert: %v", err)
	}
	if inserted {
		t.Fatal("conflicting insert reported a write")
	}

	var msg string
	if err := store.db.QueryRowContext(ctx,
		`SELECT msg FROM chat_logs WHERE message_id = ?`, "m-1").Scan(&msg); err != nil {
		t.Fatalf("query: %v", err)
	}
	if msg != "hello" {
		t.Fatalf("msg = %q, want the original write", msg)
	}

	var count int
	if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_logs`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("rows = %d, want 1", count)
	}
}

func TestSQLiteNullUserID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	inserted, err := store.InsertChat(ctx, core.ChatRow{
		MessageID:  "m-anon",
		StreamerID: "s1",
		Msg:        "anonymous line",
		Ts:         time.Now().UTC(),
		Raw:        []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Fatal("insert reported no-op")
	}

	var user *string
	if err := store.db.QueryRowContext(ctx,
		`SELECT user_id FROM chat_logs WHERE message_id = ?`, "m-anon").Scan(&user); err != nil {
		t.Fatalf("query: %v", err)
	}
	if user != nil {
		t.Fatalf("user_id = %v, want NULL", *user)
	}
}

func TestConsumerWithSQLiteStore(t *testing.T) {
	store := openTestStore(t)
	c := NewConsumer(store)

	deliver := func() *fakeMsg {
		return &fakeMsg{
			id:   "m-e2e",
			data: []byte(`{"streamer_id":"s1","user_id":"nick","msg":"full path","ts":1704067200}`),
		}
	}

	if out := c.Handle(context.Background(), deliver()); out.Status != StatusPersisted {
		t.Fatalf("first delivery status = %d", out.Status)
	}
	if out := c.Handle(context.Background(), deliver()); out.Status != StatusDuplicate {
		t.Fatalf("redelivery status = %d, want duplicate", out.Status)
	}

	var ts string
	if err := store.db.QueryRow(
		`SELECT ts FROM chat_logs WHERE message_id = ?`, "m-e2e").Scan(&ts); err != nil {
		t.Fatalf("query: %v", err)
	}
	if ts != "2024-01-01T00:00:00Z" {
		t.Fatalf("ts = %q", ts)
	}
}
