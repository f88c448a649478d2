// Package worker provides Session, the pickup worker's view of its live
// channel.
//
// A Session owns one worker connection on a connection.Manager. It requests
// the current assignments whenever the channel opens, exposes typed command
// wrappers and typed event subscriptions, and optionally reports the worker's
// position on a fixed interval:
//
//	s := worker.NewSession(mgr, "42", token, locator)
//	s.OnNewAssignment(func(a protocol.NewAssignment) { ... })
//	if err := s.Connect(ctx); err != nil { ... }
//	s.StartLocationTracking(10 * time.Second)
//	defer s.Disconnect()
package worker
