// Package chatloop implements a client for a Tinode-style chat server,
// multiplexing any number of sessions over a single execution context.
//
// A [Manager] owns one event loop, run by one worker goroutine. Each
// [Session] is a single bidirectional stream to a server, opened lazily by
// the first operation, and performing the "hi" handshake before anything
// else. Requests are correlated with their replies by id, so operations may
// be issued concurrently from any goroutine, and complete in whatever order
// the server replies. Data messages pushed by the server are buffered in
// arrival order, see [Session.Pushes].
//
// Typical usage:
//
//	s, err := chatloop.Dial("localhost", 16060)
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	if _, err := s.Login(ctx, "alice:alice123", chatloop.SchemeBasic); err != nil {
//		return err
//	}
//	if err := s.Subscribe(ctx, "grpAbc"); err != nil {
//		return err
//	}
//	for msg, err := range s.Messages(ctx) {
//		if err != nil {
//			return err
//		}
//		fmt.Println(msg.ContentString())
//	}
//
// The stream itself is provided by a [pbx.Transport], gRPC by default, see
// the grpctransport and wstransport packages.
package chatloop
