package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chatrelay/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "first chat")
	if err != nil {
		t.Fatal(err)
	}
	if conv.ID == "" {
		t.Fatal("conversation ID must be set")
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Title != "first chat" {
		t.Errorf("got %+v, want title %q", got, "first chat")
	}

	missing, err := s.GetConversation(ctx, "11111111-1111-4111-8111-111111111111")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("unknown ID should return nil, nil")
	}
}

func TestAppendMessage_OrderAndTimestampRefresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}
	before := conv.UpdatedAt

	contents := []string{"one", "two", "three"}
	for _, c := range contents {
		if _, err := s.AppendMessage(ctx, conv.ID, domain.RoleUser, c); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.Messages(ctx, conv.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, c := range contents {
		if msgs[i].Content != c {
			t.Errorf("message %d: got %q, want %q (chronological order)", i, msgs[i].Content, c)
		}
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UpdatedAt.Before(before) {
		t.Error("UpdatedAt must be refreshed on append")
	}
}

func TestMessages_LastNChronological(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _ := s.CreateConversation(ctx, "t")
	for _, c := range []string{"1", "2", "3", "4", "5"} {
		if _, err := s.AppendMessage(ctx, conv.ID, domain.RoleUser, c); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.Messages(ctx, conv.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Content != "4" || msgs[1].Content != "5" {
		t.Errorf("limit 2 should return the two newest in order, got %v", msgs)
	}
}

func TestDeleteConversation_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, _ := s.CreateConversation(ctx, "doomed")
	if _, err := s.AppendMessage(ctx, conv.ID, domain.RoleUser, "hi"); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.Messages(ctx, conv.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages must cascade on delete, got %d left", len(msgs))
	}

	// Deleting again is not an error.
	if err := s.DeleteConversation(ctx, conv.ID); err != nil {
		t.Errorf("repeat delete should be a no-op, got %v", err)
	}
}

func TestListConversations_RecentFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older, _ := s.CreateConversation(ctx, "older")
	time.Sleep(5 * time.Millisecond)
	newer, _ := s.CreateConversation(ctx, "newer")

	if _, err := s.AppendMessage(ctx, newer.ID, domain.RoleUser, "a"); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d conversations, want 2", len(list))
	}
	if list[0].ID != newer.ID {
		t.Errorf("most recently updated must come first, got %q", list[0].Title)
	}
	if list[0].MessageCount != 1 || list[1].MessageCount != 0 {
		t.Errorf("message counts: got %d and %d, want 1 and 0", list[0].MessageCount, list[1].MessageCount)
	}

	// Touching the older conversation moves it to the top.
	time.Sleep(5 * time.Millisecond)
	if _, err := s.AppendMessage(ctx, older.ID, domain.RoleUser, "b"); err != nil {
		t.Fatal(err)
	}
	list, _ = s.ListConversations(ctx)
	if list[0].ID != older.ID {
		t.Error("append must move the conversation to the top of the index")
	}
}
