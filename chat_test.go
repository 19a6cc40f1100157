package messenger

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rbaliyan/messenger/store"
)

func TestSendMessage(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice := svc.Client("alice")

	t.Run("creates conversation on first contact", func(t *testing.T) {
		msg := mustSend(t, alice, "bob", "hello bob")
		if msg.ID == "" {
			t.Fatal("expected message ID")
		}
		if msg.ConversationID == "" {
			t.Fatal("expected conversation ID")
		}
		if msg.SenderID != "alice" || msg.ReceiverID != "bob" {
			t.Errorf("unexpected participants: %s -> %s", msg.SenderID, msg.ReceiverID)
		}
		if msg.Type != MessageTypeText {
			t.Errorf("expected default type text, got %s", msg.Type)
		}
		if msg.Read {
			t.Error("new message should be unread")
		}
	})

	t.Run("reuses conversation regardless of direction", func(t *testing.T) {
		first := mustSend(t, alice, "carol", "hi carol")
		reply := mustSend(t, svc.Client("carol"), "alice", "hi alice")
		if first.ConversationID != reply.ConversationID {
			t.Errorf("expected same conversation, got %s and %s",
				first.ConversationID, reply.ConversationID)
		}
	})

	t.Run("rejects self message", func(t *testing.T) {
		_, err := alice.SendMessage(ctx, SendRequest{To: "alice", Content: "note to self"})
		if !errors.Is(err, ErrSelfMessage) {
			t.Errorf("expected ErrSelfMessage, got %v", err)
		}
	})

	t.Run("rejects empty content without attachment", func(t *testing.T) {
		_, err := alice.SendMessage(ctx, SendRequest{To: "bob"})
		if !errors.Is(err, ErrEmptyContent) {
			t.Errorf("expected ErrEmptyContent, got %v", err)
		}
	})

	t.Run("allows empty content with attachment", func(t *testing.T) {
		msg, err := alice.SendMessage(ctx, SendRequest{
			To:   "bob",
			Type: MessageTypeImage,
			Attachment: &Attachment{
				URL:      "https://cdn.example.com/cat.png",
				Name:     "cat.png",
				Size:     1024,
				MimeType: "image/png",
			},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.Attachment == nil || msg.Attachment.URL != "https://cdn.example.com/cat.png" {
			t.Error("expected attachment descriptor to round-trip")
		}
	})

	t.Run("rejects invalid message type", func(t *testing.T) {
		_, err := alice.SendMessage(ctx, SendRequest{To: "bob", Content: "x", Type: "carrier-pigeon"})
		if !errors.Is(err, ErrInvalidMessageType) {
			t.Errorf("expected ErrInvalidMessageType, got %v", err)
		}
	})

	t.Run("rejects oversized content", func(t *testing.T) {
		_, err := alice.SendMessage(ctx, SendRequest{
			To:      "bob",
			Content: strings.Repeat("a", DefaultMaxContentSize+1),
		})
		if !errors.Is(err, ErrContentTooLarge) {
			t.Errorf("expected ErrContentTooLarge, got %v", err)
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %T", err)
		}
		if verr.Field != "content" {
			t.Errorf("expected field 'content', got %q", verr.Field)
		}
	})

	t.Run("rejects attachment without URL", func(t *testing.T) {
		_, err := alice.SendMessage(ctx, SendRequest{
			To:         "bob",
			Type:       MessageTypeFile,
			Attachment: &Attachment{Name: "report.pdf", Size: 10},
		})
		if !errors.Is(err, ErrInvalidAttachment) {
			t.Errorf("expected ErrInvalidAttachment, got %v", err)
		}
	})

	t.Run("rejects oversized attachment", func(t *testing.T) {
		_, err := alice.SendMessage(ctx, SendRequest{
			To:   "bob",
			Type: MessageTypeVideo,
			Attachment: &Attachment{
				URL:  "https://cdn.example.com/big.mp4",
				Size: DefaultMaxAttachmentSize + 1,
			},
		})
		if !errors.Is(err, ErrInvalidAttachment) {
			t.Errorf("expected ErrInvalidAttachment, got %v", err)
		}
	})

	t.Run("rejects invalid receiver ID", func(t *testing.T) {
		_, err := alice.SendMessage(ctx, SendRequest{To: "bad:id", Content: "x"})
		if !errors.Is(err, ErrInvalidUserID) {
			t.Errorf("expected ErrInvalidUserID, got %v", err)
		}
	})
}

func TestReplyTo(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice := svc.Client("alice")
	bob := svc.Client("bob")

	original := mustSend(t, alice, "bob", "what time works?")

	t.Run("reply within conversation", func(t *testing.T) {
		reply, err := bob.SendMessage(ctx, SendRequest{
			To:        "alice",
			Content:   "3pm works",
			ReplyToID: original.ID,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if reply.ReplyToID != original.ID {
			t.Errorf("expected reply_to %s, got %s", original.ID, reply.ReplyToID)
		}
	})

	t.Run("reply to message in another conversation", func(t *testing.T) {
		other := mustSend(t, alice, "carol", "unrelated")
		_, err := bob.SendMessage(ctx, SendRequest{
			To:        "alice",
			Content:   "what?",
			ReplyToID: other.ID,
		})
		if !errors.Is(err, ErrInvalidReplyTo) {
			t.Errorf("expected ErrInvalidReplyTo, got %v", err)
		}
	})

	t.Run("reply to missing message", func(t *testing.T) {
		_, err := bob.SendMessage(ctx, SendRequest{
			To:        "alice",
			Content:   "?",
			ReplyToID: "no-such-message",
		})
		if !errors.Is(err, ErrInvalidReplyTo) {
			t.Errorf("expected ErrInvalidReplyTo, got %v", err)
		}
	})

	t.Run("reply to deleted message", func(t *testing.T) {
		target := mustSend(t, alice, "bob", "disregard this")
		if err := alice.DeleteMessage(ctx, target.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		_, err := bob.SendMessage(ctx, SendRequest{
			To:        "alice",
			Content:   "re: that",
			ReplyToID: target.ID,
		})
		if !errors.Is(err, ErrInvalidReplyTo) {
			t.Errorf("expected ErrInvalidReplyTo, got %v", err)
		}
	})
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice := svc.Client("alice")
	bob := svc.Client("bob")

	m1 := mustSend(t, alice, "bob", "first")
	m2 := mustSend(t, bob, "alice", "second")
	m3 := mustSend(t, alice, "bob", "third")
	convID := m1.ConversationID

	t.Run("returns reading order", func(t *testing.T) {
		list, err := alice.Messages(ctx, convID, ListOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(list.Messages) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(list.Messages))
		}
		got := []string{list.Messages[0].ID, list.Messages[1].ID, list.Messages[2].ID}
		want := []string{m1.ID, m2.ID, m3.ID}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
			}
		}
	})

	t.Run("limit returns newest page", func(t *testing.T) {
		list, err := alice.Messages(ctx, convID, ListOptions{Limit: 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(list.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(list.Messages))
		}
		// Newest two, still in reading order within the page.
		if list.Messages[0].ID != m2.ID || list.Messages[1].ID != m3.ID {
			t.Errorf("expected [%s %s], got [%s %s]",
				m2.ID, m3.ID, list.Messages[0].ID, list.Messages[1].ID)
		}
		if !list.HasMore {
			t.Error("expected HasMore")
		}
	})

	t.Run("cursor pagination with BeforeID", func(t *testing.T) {
		list, err := alice.Messages(ctx, convID, ListOptions{Limit: 2, BeforeID: m3.ID})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(list.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(list.Messages))
		}
		if list.Messages[0].ID != m1.ID || list.Messages[1].ID != m2.ID {
			t.Errorf("expected [%s %s], got [%s %s]",
				m1.ID, m2.ID, list.Messages[0].ID, list.Messages[1].ID)
		}
	})

	t.Run("non-participant sees not found", func(t *testing.T) {
		_, err := svc.Client("mallory").Messages(ctx, convID, ListOptions{})
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("missing conversation", func(t *testing.T) {
		_, err := alice.Messages(ctx, "no-such-conversation", ListOptions{})
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice := svc.Client("alice")
	bob := svc.Client("bob")

	msg := mustSend(t, alice, "bob", "read me")

	t.Run("receiver marks read", func(t *testing.T) {
		read, err := bob.MarkRead(ctx, msg.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !read.Read || read.ReadAt == nil {
			t.Error("expected read state with timestamp")
		}
	})

	t.Run("second mark returns ErrAlreadyRead", func(t *testing.T) {
		_, err := bob.MarkRead(ctx, msg.ID)
		if !errors.Is(err, store.ErrAlreadyRead) {
			t.Errorf("expected ErrAlreadyRead, got %v", err)
		}
	})

	t.Run("sender cannot mark own message read", func(t *testing.T) {
		other := mustSend(t, alice, "bob", "another")
		_, err := alice.MarkRead(ctx, other.ID)
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestMarkConversationRead(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice := svc.Client("alice")
	bob := svc.Client("bob")

	m1 := mustSend(t, alice, "bob", "one")
	mustSend(t, alice, "bob", "two")
	mustSend(t, bob, "alice", "three")

	n, err := bob.MarkConversationRead(ctx, m1.ConversationID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Only messages addressed to bob change state.
	if n != 2 {
		t.Errorf("expected 2 marked, got %d", n)
	}

	count, err := bob.UnreadCount(ctx)
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 unread, got %d", count)
	}

	// Idempotent: nothing left to mark.
	n, err = bob.MarkConversationRead(ctx, m1.ConversationID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 marked on repeat, got %d", n)
	}
}

func TestDeleteMessage(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice := svc.Client("alice")
	bob := svc.Client("bob")

	msg := mustSend(t, alice, "bob", "oops")

	t.Run("receiver cannot delete", func(t *testing.T) {
		err := bob.DeleteMessage(ctx, msg.ID)
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("sender deletes", func(t *testing.T) {
		if err := alice.DeleteMessage(ctx, msg.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("deleted message excluded from listings", func(t *testing.T) {
		list, err := alice.Messages(ctx, msg.ConversationID, ListOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, m := range list.Messages {
			if m.ID == msg.ID {
				t.Error("deleted message should not be listed")
			}
		}
	})

	t.Run("repeat delete fails", func(t *testing.T) {
		err := alice.DeleteMessage(ctx, msg.ID)
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestConversations(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice := svc.Client("alice")

	mustSend(t, alice, "bob", "to bob")
	mustSend(t, alice, "carol", "to carol")
	mustSend(t, svc.Client("bob"), "alice", "from bob")

	t.Run("lists most recently active first", func(t *testing.T) {
		list, err := alice.Conversations(ctx, ListOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(list.Conversations) != 2 {
			t.Fatalf("expected 2 conversations, got %d", len(list.Conversations))
		}
		if list.Conversations[0].OtherUserID != "bob" {
			t.Errorf("expected bob's conversation first, got %s", list.Conversations[0].OtherUserID)
		}
		if list.Conversations[0].UnreadCount != 1 {
			t.Errorf("expected 1 unread from bob, got %d", list.Conversations[0].UnreadCount)
		}
		if list.Conversations[0].LastMessage == nil ||
			list.Conversations[0].LastMessage.Content != "from bob" {
			t.Error("expected last message preview")
		}
	})

	t.Run("ConversationWith finds existing", func(t *testing.T) {
		conv, err := alice.ConversationWith(ctx, "bob")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !conv.HasParticipant("alice") || !conv.HasParticipant("bob") {
			t.Error("expected both participants")
		}
	})

	t.Run("ConversationWith without contact", func(t *testing.T) {
		_, err := alice.ConversationWith(ctx, "stranger")
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice := svc.Client("alice")
	bob := svc.Client("bob")

	mustSend(t, alice, "bob", "the quarterly report is ready")
	mustSend(t, bob, "alice", "thanks, reading the report now")
	mustSend(t, alice, "carol", "lunch tomorrow?")
	mustSend(t, svc.Client("carol"), "dave", "secret report")

	t.Run("matches own conversations only", func(t *testing.T) {
		list, err := alice.Search(ctx, "report", ListOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(list.Messages) != 2 {
			t.Fatalf("expected 2 matches, got %d", len(list.Messages))
		}
		for _, m := range list.Messages {
			if m.SenderID != "alice" && m.ReceiverID != "alice" {
				t.Errorf("match %s leaks another user's conversation", m.ID)
			}
		}
	})

	t.Run("case insensitive", func(t *testing.T) {
		list, err := alice.Search(ctx, "REPORT", ListOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(list.Messages) != 2 {
			t.Errorf("expected 2 matches, got %d", len(list.Messages))
		}
	})

	t.Run("empty query rejected", func(t *testing.T) {
		_, err := alice.Search(ctx, "", ListOptions{})
		if !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("expected ErrEmptyQuery, got %v", err)
		}
	})

	t.Run("deleted messages excluded", func(t *testing.T) {
		msg := mustSend(t, alice, "bob", "findable-token")
		if err := alice.DeleteMessage(ctx, msg.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		list, err := alice.Search(ctx, "findable-token", ListOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(list.Messages) != 0 {
			t.Errorf("expected no matches, got %d", len(list.Messages))
		}
	})
}

func TestUnreadCount(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)
	alice := svc.Client("alice")
	bob := svc.Client("bob")

	mustSend(t, alice, "bob", "one")
	mustSend(t, alice, "bob", "two")
	mustSend(t, svc.Client("carol"), "bob", "three")

	count, err := bob.UnreadCount(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 unread, got %d", count)
	}

	// Sender's own messages never count against them.
	count, err = alice.UnreadCount(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 unread for alice, got %d", count)
	}
}
