package messenger

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestConcurrency_FirstContact(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)

	// Both sides race to create the same conversation. Exactly one
	// conversation must exist afterwards, with every message in it.
	const sendsPerSide = 20

	var wg sync.WaitGroup
	sendErrs := make(chan error, sendsPerSide*2)

	for i := 0; i < sendsPerSide; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Client("alice").SendMessage(ctx, SendRequest{
				To:      "bob",
				Content: fmt.Sprintf("from alice %d", n),
			})
			if err != nil {
				sendErrs <- err
			}
		}(i)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Client("bob").SendMessage(ctx, SendRequest{
				To:      "alice",
				Content: fmt.Sprintf("from bob %d", n),
			})
			if err != nil {
				sendErrs <- err
			}
		}(i)
	}

	wg.Wait()
	close(sendErrs)
	for err := range sendErrs {
		t.Errorf("send error: %v", err)
	}

	list, err := svc.Client("alice").Conversations(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(list.Conversations) != 1 {
		t.Fatalf("expected exactly 1 conversation, got %d", len(list.Conversations))
	}

	conv := list.Conversations[0].Conversation
	msgs, err := svc.Client("alice").Messages(ctx, conv.ID, ListOptions{Limit: sendsPerSide * 2})
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs.Messages) != sendsPerSide*2 {
		t.Errorf("expected %d messages, got %d", sendsPerSide*2, len(msgs.Messages))
	}

	// Sequence numbers must strictly increase in reading order.
	for i := 1; i < len(msgs.Messages); i++ {
		if msgs.Messages[i].Seq <= msgs.Messages[i-1].Seq {
			t.Fatalf("sequence not strictly increasing at %d: %d then %d",
				i, msgs.Messages[i-1].Seq, msgs.Messages[i].Seq)
		}
	}
}

func TestConcurrency_MultipleSenders(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)

	const numSenders = 10
	const messagesPerSender = 5

	var wg sync.WaitGroup
	sendErrs := make(chan error, numSenders*messagesPerSender)

	for i := 0; i < numSenders; i++ {
		wg.Add(1)
		go func(senderNum int) {
			defer wg.Done()
			client := svc.Client(fmt.Sprintf("sender%d", senderNum))
			for j := 0; j < messagesPerSender; j++ {
				_, err := client.SendMessage(ctx, SendRequest{
					To:      "receiver",
					Content: fmt.Sprintf("message %d", j),
				})
				if err != nil {
					sendErrs <- err
				}
			}
		}(i)
	}

	wg.Wait()
	close(sendErrs)
	for err := range sendErrs {
		t.Errorf("send error: %v", err)
	}

	count, err := svc.Client("receiver").UnreadCount(ctx)
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if count != numSenders*messagesPerSender {
		t.Errorf("expected %d unread, got %d", numSenders*messagesPerSender, count)
	}

	list, err := svc.Client("receiver").Conversations(ctx, ListOptions{Limit: numSenders})
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(list.Conversations) != numSenders {
		t.Errorf("expected %d conversations, got %d", numSenders, len(list.Conversations))
	}
}

func TestConcurrency_ReadMarking(t *testing.T) {
	ctx := context.Background()
	svc := setupTestService(t)

	msg := mustSend(t, svc.Client("alice"), "bob", "race me")

	// Many goroutines race to mark the same message read. Exactly one
	// wins; the rest observe the already-read state.
	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Client("bob").MarkRead(ctx, msg.ID); err == nil {
				wins <- struct{}{}
			}
		}()
	}

	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Errorf("expected exactly 1 successful mark, got %d", winners)
	}
}
