package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rbaliyan/messenger/store"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestConnectionState(t *testing.T) {
	ctx := context.Background()

	t.Run("operations before connect fail", func(t *testing.T) {
		s := New()
		_, _, err := s.FindOrCreateConversation(ctx, "a", "b")
		if !errors.Is(err, store.ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("double connect fails", func(t *testing.T) {
		s := setupStore(t)
		if err := s.Connect(ctx); !errors.Is(err, store.ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}
	})

	t.Run("close clears state", func(t *testing.T) {
		s := New()
		if err := s.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
		if _, _, err := s.FindOrCreateConversation(ctx, "a", "b"); err != nil {
			t.Fatalf("create conversation: %v", err)
		}
		if err := s.Close(ctx); err != nil {
			t.Fatalf("close: %v", err)
		}
		if _, _, err := s.FindOrCreateConversation(ctx, "a", "b"); !errors.Is(err, store.ErrNotConnected) {
			t.Errorf("expected ErrNotConnected after close, got %v", err)
		}
	})
}

func TestFindOrCreateConversation(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	conv, created, err := s.FindOrCreateConversation(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected created=true on first contact")
	}
	// Participants stored in canonical order.
	if conv.ParticipantLow != "alice" || conv.ParticipantHigh != "bob" {
		t.Errorf("expected canonical pair (alice, bob), got (%s, %s)",
			conv.ParticipantLow, conv.ParticipantHigh)
	}

	t.Run("same pair in either order resolves to same conversation", func(t *testing.T) {
		again, created, err := s.FindOrCreateConversation(ctx, "alice", "bob")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if created {
			t.Error("expected created=false on lookup")
		}
		if again.ID != conv.ID {
			t.Errorf("expected conversation %s, got %s", conv.ID, again.ID)
		}
	})

	t.Run("same user rejected", func(t *testing.T) {
		_, _, err := s.FindOrCreateConversation(ctx, "alice", "alice")
		if !errors.Is(err, store.ErrInvalidID) {
			t.Errorf("expected ErrInvalidID, got %v", err)
		}
	})

	t.Run("empty participant rejected", func(t *testing.T) {
		_, _, err := s.FindOrCreateConversation(ctx, "", "bob")
		if !errors.Is(err, store.ErrInvalidID) {
			t.Errorf("expected ErrInvalidID, got %v", err)
		}
	})
}

func TestTouchConversation(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	conv, _, err := s.FindOrCreateConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	at := time.Now().UTC()
	if err := s.TouchConversation(ctx, conv.ID, "msg-1", at); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastMessageID != "msg-1" {
		t.Errorf("expected last message msg-1, got %s", got.LastMessageID)
	}
	if got.LastMessageAt == nil || !got.LastMessageAt.Equal(at) {
		t.Errorf("expected last activity %v, got %v", at, got.LastMessageAt)
	}

	if err := s.TouchConversation(ctx, "missing", "msg-1", at); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateMessageAssignsSequence(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	conv, _, _ := s.FindOrCreateConversation(ctx, "alice", "bob")
	other, _, _ := s.FindOrCreateConversation(ctx, "alice", "carol")

	m1, err := s.CreateMessage(ctx, store.MessageData{
		ConversationID: conv.ID, SenderID: "alice", ReceiverID: "bob",
		Content: "one", Type: store.MessageTypeText,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m2, err := s.CreateMessage(ctx, store.MessageData{
		ConversationID: other.ID, SenderID: "alice", ReceiverID: "carol",
		Content: "two", Type: store.MessageTypeText,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Sequence is global and strictly increasing.
	if m2.Seq <= m1.Seq {
		t.Errorf("expected increasing sequence, got %d then %d", m1.Seq, m2.Seq)
	}
	if m1.ID == m2.ID {
		t.Error("expected distinct message IDs")
	}
	if m1.CreatedAt.IsZero() {
		t.Error("expected creation time")
	}

	t.Run("unknown conversation rejected", func(t *testing.T) {
		_, err := s.CreateMessage(ctx, store.MessageData{
			ConversationID: "missing", SenderID: "a", ReceiverID: "b",
			Content: "x", Type: store.MessageTypeText,
		})
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestListMessagesCursor(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	conv, _, _ := s.FindOrCreateConversation(ctx, "alice", "bob")
	var ids []string
	for i := 0; i < 5; i++ {
		m, err := s.CreateMessage(ctx, store.MessageData{
			ConversationID: conv.ID, SenderID: "alice", ReceiverID: "bob",
			Content: "m", Type: store.MessageTypeText,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, m.ID)
	}

	t.Run("missing cursor row fails", func(t *testing.T) {
		_, err := s.ListMessages(ctx, conv.ID, store.ListOptions{BeforeID: "missing"})
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("cursor from another conversation fails", func(t *testing.T) {
		otherConv, _, _ := s.FindOrCreateConversation(ctx, "carol", "dave")
		foreign, err := s.CreateMessage(ctx, store.MessageData{
			ConversationID: otherConv.ID, SenderID: "carol", ReceiverID: "dave",
			Content: "x", Type: store.MessageTypeText,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		_, err = s.ListMessages(ctx, conv.ID, store.ListOptions{BeforeID: foreign.ID})
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("cursor overrides offset", func(t *testing.T) {
		list, err := s.ListMessages(ctx, conv.ID, store.ListOptions{
			BeforeID: ids[3], Offset: 100, Limit: 10,
		})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		// Strictly older than ids[3]: newest first [2, 1, 0].
		if len(list.Messages) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(list.Messages))
		}
		if list.Messages[0].ID != ids[2] {
			t.Errorf("expected %s first, got %s", ids[2], list.Messages[0].ID)
		}
	})

	t.Run("offset pagination reports hasMore", func(t *testing.T) {
		list, err := s.ListMessages(ctx, conv.ID, store.ListOptions{Limit: 2})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list.Messages) != 2 || !list.HasMore || list.Total != 5 {
			t.Errorf("expected 2 of 5 with more, got %d of %d hasMore=%v",
				len(list.Messages), list.Total, list.HasMore)
		}

		last, err := s.ListMessages(ctx, conv.ID, store.ListOptions{Limit: 2, Offset: 4})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(last.Messages) != 1 || last.HasMore {
			t.Errorf("expected final page of 1 without more, got %d hasMore=%v",
				len(last.Messages), last.HasMore)
		}
	})
}

func TestClonesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	conv, _, _ := s.FindOrCreateConversation(ctx, "alice", "bob")
	msg, err := s.CreateMessage(ctx, store.MessageData{
		ConversationID: conv.ID, SenderID: "alice", ReceiverID: "bob",
		Content: "original", Type: store.MessageTypeText,
		Attachment: &store.Attachment{URL: "https://x/y", Size: 1},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Mutating the returned copy must not affect stored state.
	msg.Content = "tampered"
	msg.Attachment.URL = "https://evil"

	got, err := s.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "original" {
		t.Errorf("stored content mutated: %q", got.Content)
	}
	if got.Attachment.URL != "https://x/y" {
		t.Errorf("stored attachment mutated: %q", got.Attachment.URL)
	}
}

func TestListConversationsParticipantFilter(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	ab, _, _ := s.FindOrCreateConversation(ctx, "alice", "bob")
	if _, _, err := s.FindOrCreateConversation(ctx, "alice", "carol"); err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := s.ListConversations(ctx, "alice", store.ListOptions{Participant: "bob"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Conversations) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(list.Conversations))
	}
	if list.Conversations[0].Conversation.ID != ab.ID {
		t.Errorf("expected conversation %s, got %s", ab.ID, list.Conversations[0].Conversation.ID)
	}
	if list.Conversations[0].OtherUserID != "bob" {
		t.Errorf("expected other user bob, got %s", list.Conversations[0].OtherUserID)
	}
}

func TestDeleteNotificationsBefore(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	n1, err := s.CreateNotification(ctx, store.NotificationData{
		UserID: "alice", Type: store.NotificationSystem, Title: "old",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	cutoff := n1.CreatedAt.Add(time.Nanosecond)

	n2, err := s.CreateNotification(ctx, store.NotificationData{
		UserID: "alice", Type: store.NotificationSystem, Title: "new",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	deleted, err := s.DeleteNotificationsBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}

	list, err := s.ListNotifications(ctx, "alice", store.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Notifications) != 1 || list.Notifications[0].ID != n2.ID {
		t.Errorf("expected only %s to survive", n2.ID)
	}
}

func TestNotificationOwnershipPredicates(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	n, err := s.CreateNotification(ctx, store.NotificationData{
		UserID: "alice", Type: store.NotificationSystem, Title: "hello",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	t.Run("mark read reports zero rows without error", func(t *testing.T) {
		matched, err := s.MarkNotificationRead(ctx, n.ID, "mallory")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if matched {
			t.Error("expected no match for non-owner")
		}

		matched, err = s.MarkNotificationRead(ctx, "no-such-id", "alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if matched {
			t.Error("expected no match for missing row")
		}

		count, err := s.UnreadNotificationCount(ctx, "alice")
		if err != nil {
			t.Fatalf("unread count: %v", err)
		}
		if count != 1 {
			t.Errorf("expected notification to stay unread, got %d unread", count)
		}
	})

	t.Run("mark read matches owner and already-read rows", func(t *testing.T) {
		matched, err := s.MarkNotificationRead(ctx, n.ID, "alice")
		if err != nil || !matched {
			t.Fatalf("expected match, got matched=%v err=%v", matched, err)
		}
		matched, err = s.MarkNotificationRead(ctx, n.ID, "alice")
		if err != nil || !matched {
			t.Errorf("expected already-read row to match, got matched=%v err=%v", matched, err)
		}
	})

	t.Run("delete reports zero rows without error", func(t *testing.T) {
		deleted, err := s.DeleteNotification(ctx, n.ID, "mallory")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if deleted {
			t.Error("expected no delete for non-owner")
		}

		deleted, err = s.DeleteNotification(ctx, n.ID, "alice")
		if err != nil || !deleted {
			t.Fatalf("expected owner delete, got deleted=%v err=%v", deleted, err)
		}

		deleted, err = s.DeleteNotification(ctx, n.ID, "alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if deleted {
			t.Error("expected no delete for already-deleted row")
		}
	})
}

func TestNotificationSettingsLazyCreation(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	settings, err := s.GetNotificationSettings(ctx, "alice")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if !settings.Comment || !settings.Push {
		t.Error("expected all-enabled defaults")
	}

	// Mutating the returned copy must not leak into the store.
	settings.Comment = false
	again, err := s.GetNotificationSettings(ctx, "alice")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if !again.Comment {
		t.Error("stored settings mutated through returned copy")
	}

	settings.UserID = "alice"
	settings.Comment = false
	saved, err := s.SaveNotificationSettings(ctx, settings)
	if err != nil {
		t.Fatalf("save settings: %v", err)
	}
	if saved.Comment {
		t.Error("expected comment disabled after save")
	}
	if saved.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}
