// Package feed mirrors session broadcasts onto an external message bus so
// that spectators, bots or dashboards can follow a game without holding a
// WebSocket to the arena.
//
// Publishing is best-effort: a publisher never returns delivery failures to
// the game loop.
package feed

import "context"

// Publisher receives every message broadcast to a session.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, msg any)
}

// Nop discards everything. It is used when no bus is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) {}

// Channel returns the bus channel a session's events are published on.
func Channel(sessionID string) string {
	return "arena:session:" + sessionID
}
