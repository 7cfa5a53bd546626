// Package ws implements the real-time broadcast hub: it tracks live
// WebSocket clients and their channel subscriptions, fans typed event
// messages out to interested clients, keeps a bounded rolling history
// per channel for late joiners, and reaps dead connections with a
// heartbeat sweep. All hub state is owned by a single goroutine that
// consumes a command channel, so no locking is needed around the
// registry or history.
package ws
