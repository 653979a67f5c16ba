// Package bridge provides synchronous request-response over topic based pub/sub.
//
// A caller publishes a message and, optionally, waits for the first message that
// arrives on a reply topic. The reply topic is the correlation key: while a sender
// waits on it, no other sender may wait on the same topic.
//
// Components:
//   - PendingRegistry: concurrent map from reply topic to the waiting sender's Slot
//   - Slot: one-shot state cell, resolved exactly once by a compare-and-swap
//   - TimeoutScheduler: per-slot deadlines whose fire action goes through the same CAS
//   - Engine: register, arm, publish, wait, clean up
//   - Dispatcher: turns deliveries of the wildcard subscription into registry resolutions
//
// Basic usage:
//
//	registry := bridge.NewPendingRegistry()
//	engine, err := bridge.NewEngine(transport, registry)
//	if err != nil {
//	    return err
//	}
//	dispatcher := bridge.NewDispatcher(registry)
//	if err := transport.SubscribeAll(ctx, dispatcher.Handler()); err != nil {
//	    return err
//	}
//
//	reply, err := engine.Send(ctx, bridge.OutboundRequest{
//	    Topic:      "devices/42/cmd",
//	    Payload:    []byte("reboot"),
//	    ReplyTopic: "devices/42/ack",
//	    Timeout:    5 * time.Second,
//	})
//
// The subscription must be live before the first Send that expects a reply.
// Registration happens before the publish, so a reply that arrives immediately
// after the publish is never lost.
package bridge
