// Package messenger provides a real-time direct-messaging and
// notification fan-out subsystem.
//
// The service manages 1:1 conversations, direct messages with read and
// soft-delete state, per-user notifications with type-level settings
// gating, and realtime delivery over Redis pub/sub. Storage is
// pluggable via the store package (PostgreSQL for production, memory
// for tests).
//
// Basic usage:
//
//	st := postgres.New(db)
//	svc, err := messenger.NewService(
//		messenger.WithStore(st),
//		messenger.WithRedisClient(redisClient),
//	)
//	if err != nil { ... }
//	if err := svc.Connect(ctx); err != nil { ... }
//	defer svc.Close(ctx)
//
//	chat := svc.Client("user-123")
//	msg, err := chat.SendMessage(ctx, messenger.SendRequest{
//		To:      "user-456",
//		Content: "hello",
//	})
//
// Realtime delivery is fire-and-forget: a send succeeds once the
// message is stored, and subscribers that miss a publish recover state
// from the store on reconnect.
package messenger
